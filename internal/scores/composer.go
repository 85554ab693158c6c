package scores

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/steptrack/steptrack/internal/domain"
)

// Composer assembles bounded leaderboard views. A viewing player's own top
// and up to MaxLeaderboardRivals rival tops are seeded first so the player
// always sees their own and their rivals' standing, even outside the global
// window; those slots displace general entries by design.
type Composer struct {
	store  Store
	logger *slog.Logger
}

// NewComposer creates a new leaderboard composer.
func NewComposer(store Store, logger *slog.Logger) *Composer {
	return &Composer{
		store:  store,
		logger: logger,
	}
}

// Leaderboard returns up to min(count, MaxLeaderboardEntries) entries for
// the song, sorted by score descending. viewerID <= 0 means no viewing
// player; self and rival seeding is skipped.
func (c *Composer) Leaderboard(ctx context.Context, songHash string, count int, viewerID int64) ([]domain.LeaderboardEntry, error) {
	if count > domain.MaxLeaderboardEntries {
		count = domain.MaxLeaderboardEntries
	}
	if count < 0 {
		count = 0
	}

	var entries []domain.LeaderboardEntry
	var used []int64

	if viewerID > 0 {
		own, err := c.store.GetTop(ctx, songHash, viewerID)
		if err != nil {
			return nil, fmt.Errorf("getting viewer top: %w", err)
		}
		if own != nil {
			rank, err := Rank(ctx, c.store, own)
			if err != nil {
				return nil, fmt.Errorf("ranking viewer top: %w", err)
			}
			entries = append(entries, makeEntry(rank, own, true, false))
			used = append(used, own.ID)
		}

		rivals, err := c.store.RivalsTop(ctx, songHash, viewerID, domain.MaxLeaderboardRivals)
		if err != nil {
			return nil, fmt.Errorf("getting rival tops: %w", err)
		}
		for i := range rivals {
			rank, err := Rank(ctx, c.store, &rivals[i])
			if err != nil {
				return nil, fmt.Errorf("ranking rival top: %w", err)
			}
			entries = append(entries, makeEntry(rank, &rivals[i], false, true))
			used = append(used, rivals[i].ID)
		}
	}

	remaining := count - len(entries)
	if remaining < 0 {
		remaining = 0
	}

	top, err := c.store.RangeTop(ctx, songHash, used, remaining)
	if err != nil {
		return nil, fmt.Errorf("getting top scores: %w", err)
	}
	for i := range top {
		rank, err := Rank(ctx, c.store, &top[i])
		if err != nil {
			return nil, fmt.Errorf("ranking top score: %w", err)
		}
		entries = append(entries, makeEntry(rank, &top[i], false, false))
	}

	// Stable keeps self/rival seeding order within equal scores.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	return entries, nil
}

func makeEntry(rank int, score *domain.Score, isSelf, isRival bool) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		Rank:       rank,
		Name:       score.DisplayName(),
		Score:      score.Value,
		Date:       score.SubmittedAt.Format(domain.LeaderboardDateFormat),
		IsSelf:     isSelf,
		IsRival:    isRival,
		IsFail:     false,
		MachineTag: score.MachineTag,
	}
}
