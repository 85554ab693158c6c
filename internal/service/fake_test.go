package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/steptrack/steptrack/internal/domain"
	"github.com/steptrack/steptrack/internal/scores"
)

// fakeBackend is an in-memory implementation of scores.Store,
// PlayerDirectory and SongRegistry for service tests.
type fakeBackend struct {
	mu       sync.Mutex
	nextID   int64
	rows     []domain.Score
	players  map[int64]*domain.Player
	byAPIKey map[string]int64
	rivals   map[int64][]int64
	songs    map[string]*domain.Song
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		players:  make(map[int64]*domain.Player),
		byAPIKey: make(map[string]int64),
		rivals:   make(map[int64][]int64),
		songs:    make(map[string]*domain.Song),
	}
}

func (f *fakeBackend) CreatePlayer(ctx context.Context, apiKey, machineTag, name string) (*domain.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byAPIKey[apiKey]; ok {
		return nil, domain.ErrPlayerExists
	}
	f.nextID++
	p := &domain.Player{
		ID:         f.nextID,
		APIKey:     apiKey,
		MachineTag: machineTag,
		Name:       name,
		CreatedAt:  time.Now().UTC(),
	}
	f.players[p.ID] = p
	f.byAPIKey[apiKey] = p.ID
	return p, nil
}

func (f *fakeBackend) PlayerByAPIKey(ctx context.Context, apiKey string) (*domain.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byAPIKey[apiKey]
	if !ok {
		return nil, domain.ErrUnknownAPIKey
	}
	p := *f.players[id]
	return &p, nil
}

func (f *fakeBackend) Player(ctx context.Context, id int64) (*domain.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[id]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeBackend) AddRival(ctx context.Context, playerID, rivalID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.rivals[playerID] {
		if id == rivalID {
			return nil
		}
	}
	f.rivals[playerID] = append(f.rivals[playerID], rivalID)
	return nil
}

func (f *fakeBackend) RemoveRival(ctx context.Context, playerID, rivalID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.rivals[playerID]
	for i, id := range ids {
		if id == rivalID {
			f.rivals[playerID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return domain.ErrPlayerNotFound
}

func (f *fakeBackend) Rivals(ctx context.Context, playerID int64) ([]domain.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Player
	for _, id := range f.rivals[playerID] {
		if p, ok := f.players[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeBackend) EnsureSong(ctx context.Context, hash string) (*domain.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if song, ok := f.songs[hash]; ok {
		copied := *song
		return &copied, nil
	}
	song := &domain.Song{Hash: hash, CreatedAt: time.Now().UTC()}
	f.songs[hash] = song
	copied := *song
	return &copied, nil
}

func (f *fakeBackend) Song(ctx context.Context, hash string) (*domain.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	song, ok := f.songs[hash]
	if !ok {
		return nil, domain.ErrSongNotFound
	}
	copied := *song
	return &copied, nil
}

func (f *fakeBackend) SetRanked(ctx context.Context, hash string, ranked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	song, ok := f.songs[hash]
	if !ok {
		return domain.ErrSongNotFound
	}
	song.Ranked = ranked
	return nil
}

func (f *fakeBackend) GetTop(ctx context.Context, songHash string, playerID int64) (*domain.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].SongHash == songHash && f.rows[i].PlayerID == playerID && f.rows[i].IsTop {
			row := f.rows[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) CountGreaterTop(ctx context.Context, songHash string, value int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for i := range f.rows {
		if f.rows[i].SongHash == songHash && f.rows[i].IsTop && f.rows[i].Value > value {
			count++
		}
	}
	return count, nil
}

func (f *fakeBackend) RangeTop(ctx context.Context, songHash string, exclude []int64, limit int) ([]domain.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	excluded := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	var out []domain.Score
	for i := range f.rows {
		if f.rows[i].SongHash == songHash && f.rows[i].IsTop && !excluded[f.rows[i].ID] {
			out = append(out, f.rows[i])
		}
	}
	sortScores(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeBackend) RivalsTop(ctx context.Context, songHash string, playerID int64, limit int) ([]domain.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rivals := make(map[int64]bool)
	for _, id := range f.rivals[playerID] {
		rivals[id] = true
	}
	var out []domain.Score
	for i := range f.rows {
		if f.rows[i].SongHash == songHash && f.rows[i].IsTop && rivals[f.rows[i].PlayerID] {
			out = append(out, f.rows[i])
		}
	}
	sortScores(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeBackend) Submit(ctx context.Context, fn func(tx scores.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]domain.Score, len(f.rows))
	copy(snapshot, f.rows)
	if err := fn(&fakeTx{backend: f}); err != nil {
		f.rows = snapshot
		return err
	}
	return nil
}

type fakeTx struct {
	backend *fakeBackend
}

func (t *fakeTx) LockTop(ctx context.Context, songHash string, playerID int64) (*domain.Score, error) {
	for i := range t.backend.rows {
		row := &t.backend.rows[i]
		if row.SongHash == songHash && row.PlayerID == playerID && row.IsTop {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) SetTop(ctx context.Context, scoreID int64, top bool) error {
	for i := range t.backend.rows {
		if t.backend.rows[i].ID == scoreID {
			t.backend.rows[i].IsTop = top
			return nil
		}
	}
	return domain.ErrScoreNotFound
}

func (t *fakeTx) Insert(ctx context.Context, sub domain.Submission, submittedAt time.Time, isTop bool) (*domain.Score, error) {
	t.backend.nextID++
	row := domain.Score{
		ID:          t.backend.nextID,
		SongHash:    sub.SongHash,
		PlayerID:    sub.PlayerID,
		SubmittedAt: submittedAt,
		Value:       sub.Value,
		Comment:     sub.Comment,
		ProfileName: sub.ProfileName,
		IsTop:       isTop,
	}
	if p, ok := t.backend.players[sub.PlayerID]; ok {
		row.PlayerName = p.Name
		row.MachineTag = p.MachineTag
	}
	t.backend.rows = append(t.backend.rows, row)
	copied := row
	return &copied, nil
}

func sortScores(rows []domain.Score) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Value != rows[j].Value {
			return rows[i].Value > rows[j].Value
		}
		return rows[i].SubmittedAt.After(rows[j].SubmittedAt)
	})
}

type fakeHighscoreCache struct {
	mu       sync.Mutex
	pointers map[string]domain.HighscorePointer
}

func newFakeHighscoreCache() *fakeHighscoreCache {
	return &fakeHighscoreCache{pointers: make(map[string]domain.HighscorePointer)}
}

func (f *fakeHighscoreCache) SetHighscore(ctx context.Context, songHash string, ptr domain.HighscorePointer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pointers[songHash] = ptr
	return nil
}

type fakeHub struct {
	mu         sync.Mutex
	broadcasts []string
}

func (f *fakeHub) BroadcastLeaderboard(songHash string, entries []domain.LeaderboardEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, songHash)
}

type fakeCharts struct {
	names map[string]string
}

func (f *fakeCharts) DisplayName(ctx context.Context, songHash string) string {
	if name, ok := f.names[songHash]; ok {
		return name
	}
	return songHash
}
