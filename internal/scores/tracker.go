package scores

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steptrack/steptrack/internal/domain"
)

// submitRetries bounds the retry loop absorbing transient conflicts between
// concurrent submissions for the same (song, player) pair.
const submitRetries = 3

// Tracker decides, on each submission, whether the new score becomes the
// player's top for the song, demoting the previous top inside the same
// transaction.
type Tracker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a new top-score tracker.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a score and returns the persisted row. The new score takes
// the top flag only when strictly greater than the current top; ties keep
// the existing top. The demote-and-insert sequence commits atomically.
func (t *Tracker) Submit(ctx context.Context, sub domain.Submission) (*domain.Score, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= submitRetries; attempt++ {
		created, err := t.submitOnce(ctx, sub)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		lastErr = err
		t.logger.Warn("retrying score submission after conflict",
			"song_hash", sub.SongHash,
			"player_id", sub.PlayerID,
			"attempt", attempt,
		)
	}
	return nil, fmt.Errorf("%w: submission conflicts exhausted retries: %v", domain.ErrStorage, lastErr)
}

func (t *Tracker) submitOnce(ctx context.Context, sub domain.Submission) (*domain.Score, error) {
	var created *domain.Score
	err := t.store.Submit(ctx, func(tx Tx) error {
		previous, err := tx.LockTop(ctx, sub.SongHash, sub.PlayerID)
		if err != nil {
			return err
		}

		isTop := previous == nil
		if previous != nil && previous.Value < sub.Value {
			if err := tx.SetTop(ctx, previous.ID, false); err != nil {
				return err
			}
			isTop = true
		}

		created, err = tx.Insert(ctx, sub, t.now(), isTop)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
