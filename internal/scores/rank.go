package scores

import (
	"context"

	"github.com/steptrack/steptrack/internal/domain"
)

// Rank computes a score's 1-based rank among all current top scores for its
// song: one plus the count of strictly greater top scores. Ties share a
// rank. Recomputed on demand because the top set changes on every
// submission.
func Rank(ctx context.Context, store Store, score *domain.Score) (int, error) {
	greater, err := store.CountGreaterTop(ctx, score.SongHash, score.Value)
	if err != nil {
		return 0, err
	}
	return greater + 1, nil
}
