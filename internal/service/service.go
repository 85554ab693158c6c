package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/steptrack/steptrack/internal/config"
	"github.com/steptrack/steptrack/internal/domain"
	"github.com/steptrack/steptrack/internal/scores"
)

// PlayerDirectory resolves player identities and the rivals relation.
type PlayerDirectory interface {
	CreatePlayer(ctx context.Context, apiKey, machineTag, name string) (*domain.Player, error)
	PlayerByAPIKey(ctx context.Context, apiKey string) (*domain.Player, error)
	Player(ctx context.Context, id int64) (*domain.Player, error)
	AddRival(ctx context.Context, playerID, rivalID int64) error
	RemoveRival(ctx context.Context, playerID, rivalID int64) error
	Rivals(ctx context.Context, playerID int64) ([]domain.Player, error)
}

// SongRegistry creates songs on first reference and resolves them.
type SongRegistry interface {
	EnsureSong(ctx context.Context, hash string) (*domain.Song, error)
	Song(ctx context.Context, hash string) (*domain.Song, error)
	SetRanked(ctx context.Context, hash string, ranked bool) error
}

// HighscoreCache is the best-effort per-song highscore pointer.
type HighscoreCache interface {
	SetHighscore(ctx context.Context, songHash string, ptr domain.HighscorePointer) error
}

// ChartNamer builds display names for songs.
type ChartNamer interface {
	DisplayName(ctx context.Context, songHash string) string
}

// Broadcaster pushes leaderboard updates to connected clients.
type Broadcaster interface {
	BroadcastLeaderboard(songHash string, entries []domain.LeaderboardEntry)
}

// Service provides the public scoring operations: score submission,
// leaderboard views, rank queries and player directory management.
type Service struct {
	store    scores.Store
	players  PlayerDirectory
	songs    SongRegistry
	tracker  *scores.Tracker
	composer *scores.Composer
	charts   ChartNamer
	cache    HighscoreCache
	hub      Broadcaster
	cfg      *config.LeaderboardConfig
	logger   *slog.Logger
}

// New creates the scoring service. cache and charts may be nil; the hub is
// attached separately once the websocket layer is up.
func New(
	store scores.Store,
	players PlayerDirectory,
	songs SongRegistry,
	charts ChartNamer,
	cache HighscoreCache,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		players:  players,
		songs:    songs,
		tracker:  scores.NewTracker(store, logger),
		composer: scores.NewComposer(store, logger),
		charts:   charts,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetHub attaches the broadcast hub for leaderboard updates.
func (s *Service) SetHub(hub Broadcaster) {
	s.hub = hub
}

// RegisterPlayer registers a player under a wire API key. The stored
// credential is derived from the key; the raw key is never persisted.
func (s *Service) RegisterPlayer(ctx context.Context, wireKey, machineTag, name string) (*domain.Player, error) {
	if wireKey == "" {
		return nil, fmt.Errorf("%w: api key is required", domain.ErrValidation)
	}
	if err := domain.ValidatePlayer(machineTag, name); err != nil {
		return nil, err
	}
	return s.players.CreatePlayer(ctx, domain.DeriveAPIKey(wireKey), machineTag, name)
}

// Authenticate resolves a player from a wire API key.
func (s *Service) Authenticate(ctx context.Context, wireKey string) (*domain.Player, error) {
	if wireKey == "" {
		return nil, domain.ErrUnknownAPIKey
	}
	return s.players.PlayerByAPIKey(ctx, domain.DeriveAPIKey(wireKey))
}

// SubmitScore records a score for the player and returns the persisted
// record with its current rank. The song is created on first reference.
func (s *Service) SubmitScore(ctx context.Context, player *domain.Player, sub domain.Submission) (*domain.Score, int, error) {
	sub.PlayerID = player.ID
	if err := sub.Validate(); err != nil {
		return nil, 0, err
	}

	if _, err := s.songs.EnsureSong(ctx, sub.SongHash); err != nil {
		return nil, 0, err
	}

	created, err := s.tracker.Submit(ctx, sub)
	if err != nil {
		return nil, 0, err
	}
	created.PlayerName = player.Name
	created.MachineTag = player.MachineTag

	rank, err := scores.Rank(ctx, s.store, created)
	if err != nil {
		return nil, 0, err
	}

	if created.IsTop {
		if rank == 1 && s.cache != nil {
			ptr := domain.HighscorePointer{
				ScoreID:  created.ID,
				PlayerID: created.PlayerID,
				Value:    created.Value,
			}
			if err := s.cache.SetHighscore(ctx, sub.SongHash, ptr); err != nil {
				s.logger.Warn("failed to update highscore cache",
					"song_hash", sub.SongHash, "error", err)
			}
		}
		s.broadcastUpdate(ctx, sub.SongHash)
	}

	return created, rank, nil
}

// SubmitScoreByKey records a score submitted through the ingestion
// pipeline, which carries the derived API key.
func (s *Service) SubmitScoreByKey(ctx context.Context, apiKey string, sub domain.Submission) (*domain.Score, error) {
	player, err := s.players.PlayerByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	created, _, err := s.SubmitScore(ctx, player, sub)
	return created, err
}

// GetLeaderboard returns the leaderboard view for a song. viewer may be
// nil for an anonymous request; count <= 0 selects the configured default.
func (s *Service) GetLeaderboard(ctx context.Context, songHash string, count int, viewer *domain.Player) ([]domain.LeaderboardEntry, error) {
	if err := domain.ValidateSongHash(songHash); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = s.cfg.DefaultEntries
	}
	var viewerID int64
	if viewer != nil {
		viewerID = viewer.ID
	}
	return s.composer.Leaderboard(ctx, songHash, count, viewerID)
}

// GetRank returns a score's 1-based rank among its song's top scores.
func (s *Service) GetRank(ctx context.Context, score *domain.Score) (int, error) {
	return scores.Rank(ctx, s.store, score)
}

// AddRival declares a one-directional rival. Self-rivalry is rejected
// before anything is persisted.
func (s *Service) AddRival(ctx context.Context, playerID, rivalID int64) error {
	if playerID == rivalID {
		return domain.ErrSelfRival
	}
	if _, err := s.players.Player(ctx, rivalID); err != nil {
		return err
	}
	return s.players.AddRival(ctx, playerID, rivalID)
}

// RemoveRival removes a rival declaration.
func (s *Service) RemoveRival(ctx context.Context, playerID, rivalID int64) error {
	return s.players.RemoveRival(ctx, playerID, rivalID)
}

// Rivals lists the player's declared rivals.
func (s *Service) Rivals(ctx context.Context, playerID int64) ([]domain.Player, error) {
	return s.players.Rivals(ctx, playerID)
}

// SongInfo returns a song with its human display name. The name falls back
// to the raw hash when no chart metadata exists.
func (s *Service) SongInfo(ctx context.Context, songHash string) (*domain.Song, string, error) {
	if err := domain.ValidateSongHash(songHash); err != nil {
		return nil, "", err
	}
	song, err := s.songs.Song(ctx, songHash)
	if err != nil {
		return nil, "", err
	}
	name := songHash
	if s.charts != nil {
		name = s.charts.DisplayName(ctx, songHash)
	}
	return song, name, nil
}

// SetSongRanked flips a song's ranked flag.
func (s *Service) SetSongRanked(ctx context.Context, songHash string, ranked bool) error {
	if err := domain.ValidateSongHash(songHash); err != nil {
		return err
	}
	return s.songs.SetRanked(ctx, songHash, ranked)
}

// broadcastUpdate pushes the song's refreshed leaderboard to subscribers.
// Failures never affect the submission.
func (s *Service) broadcastUpdate(ctx context.Context, songHash string) {
	if s.hub == nil {
		return
	}
	entries, err := s.composer.Leaderboard(ctx, songHash, s.cfg.BroadcastEntries, 0)
	if err != nil {
		s.logger.Warn("failed to compose broadcast leaderboard",
			"song_hash", songHash, "error", err)
		return
	}
	s.hub.BroadcastLeaderboard(songHash, entries)
}
