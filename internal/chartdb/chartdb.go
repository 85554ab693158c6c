package chartdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/steptrack/steptrack/internal/config"
)

// NameCache caches built display names. The Redis cache implements it; a
// nil cache disables caching.
type NameCache interface {
	GetChartName(ctx context.Context, songHash string) (string, error)
	SetChartName(ctx context.Context, songHash, name string, ttl time.Duration) error
}

// ChartInfo is a record from the external chart metadata database.
type ChartInfo struct {
	Artist           string `json:"artist"`
	ArtistTranslit   string `json:"artisttranslit"`
	Title            string `json:"title"`
	TitleTranslit    string `json:"titletranslit"`
	Subtitle         string `json:"subtitle"`
	SubtitleTranslit string `json:"subtitletranslit"`
	StepsType        string `json:"steps_type"`
}

// DB looks up chart metadata from an on-disk JSON database laid out as
// <root>/<hash[:2]>/<hash[2:]>.json. Metadata is optional and only ever
// used for display names, never for ranking.
type DB struct {
	root     string
	cache    NameCache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// New creates a chart metadata lookup. An empty path disables lookups and
// every display name falls back to the raw hash.
func New(cfg *config.ChartDBConfig, cache NameCache, logger *slog.Logger) *DB {
	return &DB{
		root:     cfg.Path,
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		logger:   logger,
	}
}

// Lookup returns the chart record for a song hash, or nil when the
// database has no record (absence is a normal outcome).
func (d *DB) Lookup(songHash string) (*ChartInfo, error) {
	if d.root == "" || len(songHash) < 3 {
		return nil, nil
	}
	path := filepath.Join(d.root, songHash[:2], songHash[2:]+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading chart record: %w", err)
	}

	var info ChartInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing chart record: %w", err)
	}
	return &info, nil
}

// DisplayName builds a human display name for a song, falling back to the
// raw hash when no chart record exists. Results are cached.
func (d *DB) DisplayName(ctx context.Context, songHash string) string {
	if d.cache != nil {
		if name, err := d.cache.GetChartName(ctx, songHash); err == nil && name != "" {
			return name
		}
	}

	name := songHash
	info, err := d.Lookup(songHash)
	if err != nil {
		d.logger.Warn("chart lookup failed", "song_hash", songHash, "error", err)
	}
	if info != nil {
		name = info.displayName()
	}

	if d.cache != nil {
		if err := d.cache.SetChartName(ctx, songHash, name, d.cacheTTL); err != nil {
			d.logger.Warn("failed to cache chart name", "song_hash", songHash, "error", err)
		}
	}
	return name
}

func (info *ChartInfo) displayName() string {
	artist := info.Artist
	if info.ArtistTranslit != "" {
		artist = info.ArtistTranslit
	}
	title := info.Title
	if info.TitleTranslit != "" {
		title = info.TitleTranslit
	}

	subtitle := info.Subtitle
	if info.SubtitleTranslit != "" {
		subtitle = info.SubtitleTranslit
	}
	if subtitle != "" {
		// Some charts ship inconsistent braces around subtitles.
		if !(strings.HasPrefix(subtitle, "(") && strings.HasSuffix(subtitle, ")")) {
			subtitle = "(" + subtitle + ")"
		}
		subtitle = " " + subtitle
	}

	name := fmt.Sprintf("%s - %s%s", artist, title, subtitle)

	// dance-single is the overwhelmingly common steps type; only call out
	// the others.
	if info.StepsType != "" && info.StepsType != "dance-single" {
		name += fmt.Sprintf(" (%s)", info.StepsType)
	}
	return name
}
