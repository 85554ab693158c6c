package scores

import (
	"context"
	"time"

	"github.com/steptrack/steptrack/internal/domain"
)

// Store is the narrow persistence surface the scoring core operates on.
// Absent rows are reported as nil values, not errors. Read methods may run
// at snapshot isolation; leaderboards tolerate transient staleness.
type Store interface {
	// GetTop returns the current top score for a (song, player) pair, or
	// nil when the player has no score on the song.
	GetTop(ctx context.Context, songHash string, playerID int64) (*domain.Score, error)

	// CountGreaterTop counts top scores for the song strictly greater than
	// the given value.
	CountGreaterTop(ctx context.Context, songHash string, value int64) (int, error)

	// RangeTop returns up to limit top scores for the song, excluding the
	// given score ids, ordered by score desc then submission time desc.
	RangeTop(ctx context.Context, songHash string, exclude []int64, limit int) ([]domain.Score, error)

	// RivalsTop returns the top scores of the player's rivals on the song,
	// ordered by score desc then submission time desc, up to limit.
	RivalsTop(ctx context.Context, songHash string, playerID int64, limit int) ([]domain.Score, error)

	// Submit runs fn inside a transaction serializing concurrent
	// submissions for the same (song, player) pair. It returns
	// domain.ErrConflict for retryable serialization or uniqueness
	// failures; any error rolls the transaction back.
	Submit(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by the tracker's read-modify-write.
type Tx interface {
	// LockTop reads the current top row for the pair and holds a row lock
	// on it until commit. Returns nil when the pair has no top yet.
	LockTop(ctx context.Context, songHash string, playerID int64) (*domain.Score, error)

	// SetTop flips a score's top flag.
	SetTop(ctx context.Context, scoreID int64, top bool) error

	// Insert persists a new score row and returns it.
	Insert(ctx context.Context, sub domain.Submission, submittedAt time.Time, isTop bool) (*domain.Score, error)
}
