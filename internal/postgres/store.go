package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steptrack/steptrack/internal/config"
	"github.com/steptrack/steptrack/internal/domain"
	"github.com/steptrack/steptrack/internal/scores"
)

// Store provides PostgreSQL-backed persistence for songs, players and
// scores. It implements scores.Store; the partial unique index on
// (song_hash, player_id) WHERE is_top backstops the single-top invariant
// against concurrent submissions.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a new PostgreSQL store.
func NewStore(cfg *config.PostgresConfig, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// RunMigrations executes database migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS songs (
			hash CHAR(16) PRIMARY KEY,
			ranked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			id BIGSERIAL PRIMARY KEY,
			api_key VARCHAR(64) NOT NULL UNIQUE,
			machine_tag VARCHAR(4) NOT NULL,
			name VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS rivals (
			player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			rival_id BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			PRIMARY KEY (player_id, rival_id),
			CHECK (player_id <> rival_id)
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id BIGSERIAL PRIMARY KEY,
			song_hash CHAR(16) NOT NULL REFERENCES songs(hash) ON DELETE CASCADE,
			player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			score BIGINT NOT NULL,
			comment VARCHAR(200) NOT NULL DEFAULT '',
			profile_name VARCHAR(50),
			is_top BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_scores_single_top
			ON scores(song_hash, player_id) WHERE is_top`,
		`CREATE INDEX IF NOT EXISTS idx_scores_top_order
			ON scores(song_hash, score DESC, submitted_at DESC) WHERE is_top`,
		`CREATE INDEX IF NOT EXISTS idx_scores_player ON scores(player_id, submitted_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := s.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

const scoreColumns = `s.id, s.song_hash, s.player_id, s.submitted_at, s.score,
	s.comment, COALESCE(s.profile_name, ''), s.is_top,
	COALESCE(p.name, ''), p.machine_tag`

func scanScore(row pgx.Row) (*domain.Score, error) {
	var sc domain.Score
	err := row.Scan(
		&sc.ID,
		&sc.SongHash,
		&sc.PlayerID,
		&sc.SubmittedAt,
		&sc.Value,
		&sc.Comment,
		&sc.ProfileName,
		&sc.IsTop,
		&sc.PlayerName,
		&sc.MachineTag,
	)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// GetTop returns the current top score for a (song, player) pair, or nil
// when the player has no score on the song.
func (s *Store) GetTop(ctx context.Context, songHash string, playerID int64) (*domain.Score, error) {
	query := `
		SELECT ` + scoreColumns + `
		FROM scores s
		JOIN players p ON p.id = s.player_id
		WHERE s.song_hash = $1 AND s.player_id = $2 AND s.is_top
	`
	sc, err := scanScore(s.pool.QueryRow(ctx, query, songHash, playerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting top score: %w", err)
	}
	return sc, nil
}

// CountGreaterTop counts top scores for the song strictly greater than the
// given value.
func (s *Store) CountGreaterTop(ctx context.Context, songHash string, value int64) (int, error) {
	query := `SELECT COUNT(*) FROM scores WHERE song_hash = $1 AND is_top AND score > $2`
	var count int
	if err := s.pool.QueryRow(ctx, query, songHash, value).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting greater top scores: %w", err)
	}
	return count, nil
}

// RangeTop returns up to limit top scores for the song excluding the given
// score ids, ordered by score desc then submission time desc.
func (s *Store) RangeTop(ctx context.Context, songHash string, exclude []int64, limit int) ([]domain.Score, error) {
	if limit <= 0 {
		return nil, nil
	}
	if exclude == nil {
		exclude = []int64{}
	}
	query := `
		SELECT ` + scoreColumns + `
		FROM scores s
		JOIN players p ON p.id = s.player_id
		WHERE s.song_hash = $1 AND s.is_top AND NOT (s.id = ANY($2))
		ORDER BY s.score DESC, s.submitted_at DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, songHash, exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top scores: %w", err)
	}
	defer rows.Close()
	return collectScores(rows)
}

// RivalsTop returns the top scores of the player's rivals on the song,
// ordered by score desc then submission time desc, up to limit.
func (s *Store) RivalsTop(ctx context.Context, songHash string, playerID int64, limit int) ([]domain.Score, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT ` + scoreColumns + `
		FROM scores s
		JOIN players p ON p.id = s.player_id
		JOIN rivals r ON r.rival_id = s.player_id AND r.player_id = $2
		WHERE s.song_hash = $1 AND s.is_top
		ORDER BY s.score DESC, s.submitted_at DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, songHash, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting rival top scores: %w", err)
	}
	defer rows.Close()
	return collectScores(rows)
}

func collectScores(rows pgx.Rows) ([]domain.Score, error) {
	var out []domain.Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		out = append(out, *sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading scores: %w", err)
	}
	return out, nil
}

// Submit runs fn inside a transaction. Serialization and uniqueness
// failures surface as domain.ErrConflict so the tracker's retry loop can
// absorb them; the transaction rolls back on any error.
func (s *Store) Submit(ctx context.Context, fn func(tx scores.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&storeTx{tx: tx}); err != nil {
		if isRetryable(err) {
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isRetryable(err) {
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return fmt.Errorf("%w: committing submission: %v", domain.ErrStorage, err)
	}
	return nil
}

// isRetryable reports whether an error is a transient serialization or
// uniqueness conflict worth retrying.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

type storeTx struct {
	tx pgx.Tx
}

// LockTop reads the pair's current top row under FOR UPDATE so concurrent
// submissions for the same pair serialize on it.
func (t *storeTx) LockTop(ctx context.Context, songHash string, playerID int64) (*domain.Score, error) {
	query := `
		SELECT id, song_hash, player_id, submitted_at, score,
			comment, COALESCE(profile_name, ''), is_top
		FROM scores
		WHERE song_hash = $1 AND player_id = $2 AND is_top
		FOR UPDATE
	`
	var sc domain.Score
	err := t.tx.QueryRow(ctx, query, songHash, playerID).Scan(
		&sc.ID,
		&sc.SongHash,
		&sc.PlayerID,
		&sc.SubmittedAt,
		&sc.Value,
		&sc.Comment,
		&sc.ProfileName,
		&sc.IsTop,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("locking top score: %w", err)
	}
	return &sc, nil
}

func (t *storeTx) SetTop(ctx context.Context, scoreID int64, top bool) error {
	result, err := t.tx.Exec(ctx, `UPDATE scores SET is_top = $2 WHERE id = $1`, scoreID, top)
	if err != nil {
		return fmt.Errorf("setting top flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrScoreNotFound
	}
	return nil
}

func (t *storeTx) Insert(ctx context.Context, sub domain.Submission, submittedAt time.Time, isTop bool) (*domain.Score, error) {
	query := `
		INSERT INTO scores (song_hash, player_id, submitted_at, score, comment, profile_name, is_top)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING id
	`
	sc := domain.Score{
		SongHash:    sub.SongHash,
		PlayerID:    sub.PlayerID,
		SubmittedAt: submittedAt,
		Value:       sub.Value,
		Comment:     sub.Comment,
		ProfileName: sub.ProfileName,
		IsTop:       isTop,
	}
	err := t.tx.QueryRow(ctx, query,
		sub.SongHash,
		sub.PlayerID,
		submittedAt,
		sub.Value,
		sub.Comment,
		sub.ProfileName,
		isTop,
	).Scan(&sc.ID)
	if err != nil {
		return nil, fmt.Errorf("inserting score: %w", err)
	}
	return &sc, nil
}

// EnsureSong creates the song row on first reference and returns it.
func (s *Store) EnsureSong(ctx context.Context, hash string) (*domain.Song, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO songs (hash) VALUES ($1) ON CONFLICT (hash) DO NOTHING`, hash)
	if err != nil {
		return nil, fmt.Errorf("ensuring song: %w", err)
	}
	return s.Song(ctx, hash)
}

// Song returns a song by hash.
func (s *Store) Song(ctx context.Context, hash string) (*domain.Song, error) {
	var song domain.Song
	err := s.pool.QueryRow(ctx,
		`SELECT hash, ranked, created_at FROM songs WHERE hash = $1`, hash).
		Scan(&song.Hash, &song.Ranked, &song.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSongNotFound
		}
		return nil, fmt.Errorf("getting song: %w", err)
	}
	return &song, nil
}

// SetRanked flips a song's ranked flag.
func (s *Store) SetRanked(ctx context.Context, hash string, ranked bool) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE songs SET ranked = $2 WHERE hash = $1`, hash, ranked)
	if err != nil {
		return fmt.Errorf("setting ranked flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrSongNotFound
	}
	return nil
}

// SongHashes returns every known song hash, for cache repair sweeps.
func (s *Store) SongHashes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT hash FROM songs ORDER BY hash`)
	if err != nil {
		return nil, fmt.Errorf("listing song hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scanning song hash: %w", err)
		}
		hashes = append(hashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading song hashes: %w", err)
	}
	return hashes, nil
}
