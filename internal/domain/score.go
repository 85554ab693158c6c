package domain

import (
	"fmt"
	"time"
)

// Limits enforced at the input boundary.
const (
	SongHashLength       = 16
	MaxCommentLength     = 200
	MaxProfileNameLength = 50
	MaxMachineTagLength  = 4
	MaxPlayerNameLength  = 64

	// MaxLeaderboardEntries caps any leaderboard response.
	MaxLeaderboardEntries = 50
	// MaxLeaderboardRivals caps the rival entries pre-seeded into a view.
	MaxLeaderboardRivals = 3
)

// LeaderboardDateFormat is the wire format for submission dates.
const LeaderboardDateFormat = "2006-01-02 15:04:05"

// Song is a chart identified by its content-derived 16-hex hash.
type Song struct {
	Hash      string    `json:"hash"`
	Ranked    bool      `json:"ranked"`
	CreatedAt time.Time `json:"created_at"`
}

// Score is a single submission. Rows are immutable once written except for
// IsTop, which flips to false exactly once when a higher score supersedes it.
type Score struct {
	ID          int64     `json:"id"`
	SongHash    string    `json:"song_hash"`
	PlayerID    int64     `json:"player_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Value       int64     `json:"score"`
	Comment     string    `json:"comment,omitempty"`
	ProfileName string    `json:"profile_name,omitempty"`
	IsTop       bool      `json:"is_top"`

	// Joined player columns, populated by read queries for display.
	PlayerName string `json:"player_name,omitempty"`
	MachineTag string `json:"machine_tag,omitempty"`
}

// DisplayName returns the player's name when set, falling back to the
// machine tag.
func (s *Score) DisplayName() string {
	if s.PlayerName != "" {
		return s.PlayerName
	}
	return s.MachineTag
}

// Submission is a request to record a score.
type Submission struct {
	SongHash    string `json:"song_hash"`
	PlayerID    int64  `json:"-"`
	Value       int64  `json:"score"`
	Comment     string `json:"comment,omitempty"`
	ProfileName string `json:"profile_name,omitempty"`
}

// Validate rejects malformed submissions before any store mutation.
func (s Submission) Validate() error {
	if err := ValidateSongHash(s.SongHash); err != nil {
		return err
	}
	if s.Value < 0 {
		return fmt.Errorf("%w: score must not be negative", ErrValidation)
	}
	if len(s.Comment) > MaxCommentLength {
		return fmt.Errorf("%w: comment exceeds %d characters", ErrValidation, MaxCommentLength)
	}
	if len(s.ProfileName) > MaxProfileNameLength {
		return fmt.Errorf("%w: profile name exceeds %d characters", ErrValidation, MaxProfileNameLength)
	}
	return nil
}

// ValidateSongHash checks the fixed 16-character lowercase hex form.
func ValidateSongHash(hash string) error {
	if len(hash) != SongHashLength {
		return fmt.Errorf("%w: song hash must be %d characters", ErrValidation, SongHashLength)
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: song hash must be lowercase hex", ErrValidation)
		}
	}
	return nil
}

// LeaderboardEntry is a display-ready projection of a top score.
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	Name       string `json:"name"`
	Score      int64  `json:"score"`
	Date       string `json:"date"`
	IsSelf     bool   `json:"isSelf"`
	IsRival    bool   `json:"isRival"`
	IsFail     bool   `json:"isFail"`
	MachineTag string `json:"machineTag"`
}

// HighscorePointer is the denormalized per-song best kept in the cache.
// It is a secondary index only; rank always comes from the store.
type HighscorePointer struct {
	ScoreID  int64 `json:"score_id"`
	PlayerID int64 `json:"player_id"`
	Value    int64 `json:"score"`
}
