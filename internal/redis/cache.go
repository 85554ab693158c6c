package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/steptrack/steptrack/internal/config"
	"github.com/steptrack/steptrack/internal/domain"
)

// Cache holds the best-effort secondary indexes: the per-song highscore
// pointer and chart display names. Nothing here is a source of truth; rank
// and leaderboards are always derived from the relational store.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewCache creates a new Redis cache.
func NewCache(cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client returns the underlying Redis client.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// highscoreKey returns the key for a song's cached highscore pointer.
func (c *Cache) highscoreKey(songHash string) string {
	return fmt.Sprintf("song:%s:highscore", songHash)
}

// chartNameKey returns the key for a song's cached chart display name.
func (c *Cache) chartNameKey(songHash string) string {
	return fmt.Sprintf("chart:%s:name", songHash)
}

// SetHighscore overwrites the song's cached highscore pointer.
func (c *Cache) SetHighscore(ctx context.Context, songHash string, ptr domain.HighscorePointer) error {
	key := c.highscoreKey(songHash)
	err := c.client.HSet(ctx, key,
		"score_id", ptr.ScoreID,
		"player_id", ptr.PlayerID,
		"score", ptr.Value,
	).Err()
	if err != nil {
		return fmt.Errorf("setting highscore pointer: %w", err)
	}
	return nil
}

// GetHighscore returns the song's cached highscore pointer, or nil when
// none is cached.
func (c *Cache) GetHighscore(ctx context.Context, songHash string) (*domain.HighscorePointer, error) {
	key := c.highscoreKey(songHash)
	result, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("getting highscore pointer: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	scoreID, _ := strconv.ParseInt(result["score_id"], 10, 64)
	playerID, _ := strconv.ParseInt(result["player_id"], 10, 64)
	value, _ := strconv.ParseInt(result["score"], 10, 64)

	return &domain.HighscorePointer{
		ScoreID:  scoreID,
		PlayerID: playerID,
		Value:    value,
	}, nil
}

// ClearHighscore drops the song's cached highscore pointer.
func (c *Cache) ClearHighscore(ctx context.Context, songHash string) error {
	if err := c.client.Del(ctx, c.highscoreKey(songHash)).Err(); err != nil {
		return fmt.Errorf("clearing highscore pointer: %w", err)
	}
	return nil
}

// SetChartName caches a chart display name with a TTL.
func (c *Cache) SetChartName(ctx context.Context, songHash, name string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.chartNameKey(songHash), name, ttl).Err(); err != nil {
		return fmt.Errorf("setting chart name: %w", err)
	}
	return nil
}

// GetChartName returns a cached chart display name, or "" when absent.
func (c *Cache) GetChartName(ctx context.Context, songHash string) (string, error) {
	name, err := c.client.Get(ctx, c.chartNameKey(songHash)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("getting chart name: %w", err)
	}
	return name, nil
}
