// Package publish fans signed audits out over Redis pub/sub.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"feed-attestor/internal/config"
	"feed-attestor/internal/service"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes each audit as JSON on one channel.
type Redis struct {
	client  publisher
	closer  func() error
	channel string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedis returns nil when cfg.Addr is empty.
func NewRedis(cfg config.RedisConfig, logger zerolog.Logger) *Redis {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return newRedis(client, client.Close, cfg.Channel, logger)
}

func newRedis(client publisher, closer func() error, channel string, logger zerolog.Logger) *Redis {
	if channel == "" {
		channel = "attestor:audits"
	}
	return &Redis{
		client:  client,
		closer:  closer,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "publisher_redis").Logger(),
	}
}

// Publish sends audit to the configured channel.
func (r *Redis) Publish(ctx context.Context, audit service.SignedAudit) error {
	payload, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("marshal audit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	receivers, err := r.client.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish %s audit: %w", audit.Asset, err)
	}
	r.logger.Debug().Str("asset", audit.Asset).Str("channel", r.channel).Int64("receivers", receivers).Msg("audit published")
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer()
}

var _ service.Publisher = (*Redis)(nil)
