package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/steptrack/steptrack/internal/config"
	"github.com/steptrack/steptrack/internal/domain"
)

// ScoreSource is the subset of the score store the repair worker reads.
type ScoreSource interface {
	SongHashes(ctx context.Context) ([]string, error)
	RangeTop(ctx context.Context, songHash string, exclude []int64, limit int) ([]domain.Score, error)
}

// PointerCache is the highscore pointer cache being repaired.
type PointerCache interface {
	SetHighscore(ctx context.Context, songHash string, ptr domain.HighscorePointer) error
	ClearHighscore(ctx context.Context, songHash string) error
}

// Repairer periodically rebuilds the per-song highscore pointers in the
// cache from the store. The cache is best-effort and can drift when Redis
// restarts or a cache write fails after a submission.
type Repairer struct {
	source ScoreSource
	cache  PointerCache
	config *config.RepairConfig
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRepairer creates a new highscore cache repair worker
func NewRepairer(source ScoreSource, cache PointerCache, cfg *config.RepairConfig, logger *slog.Logger) *Repairer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Repairer{
		source: source,
		cache:  cache,
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the periodic repair loop
func (r *Repairer) Start() {
	r.logger.Info("starting highscore repair worker", "interval", r.config.Interval)
	r.wg.Add(1)
	go r.run()
}

// Stop gracefully stops the worker
func (r *Repairer) Stop() {
	r.logger.Info("stopping highscore repair worker")
	r.cancel()
	r.wg.Wait()
}

func (r *Repairer) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(r.ctx); err != nil {
				r.logger.Error("highscore repair sweep failed", "error", err)
			}
		}
	}
}

// RunOnce sweeps every known song and rewrites its highscore pointer from
// the store's current top scores.
func (r *Repairer) RunOnce(ctx context.Context) error {
	start := time.Now()

	hashes, err := r.source.SongHashes(ctx)
	if err != nil {
		return err
	}

	repaired := 0
	cleared := 0
	for _, hash := range hashes {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		tops, err := r.source.RangeTop(ctx, hash, nil, 1)
		if err != nil {
			r.logger.Warn("failed to read top score", "song_hash", hash, "error", err)
			continue
		}

		if len(tops) == 0 {
			if err := r.cache.ClearHighscore(ctx, hash); err != nil {
				r.logger.Warn("failed to clear highscore pointer", "song_hash", hash, "error", err)
				continue
			}
			cleared++
			continue
		}

		best := tops[0]
		ptr := domain.HighscorePointer{
			ScoreID:  best.ID,
			PlayerID: best.PlayerID,
			Value:    best.Value,
		}
		if err := r.cache.SetHighscore(ctx, hash, ptr); err != nil {
			r.logger.Warn("failed to write highscore pointer", "song_hash", hash, "error", err)
			continue
		}
		repaired++
	}

	r.logger.Info("highscore repair sweep complete",
		"songs", len(hashes),
		"repaired", repaired,
		"cleared", cleared,
		"duration", time.Since(start),
	)
	return nil
}
