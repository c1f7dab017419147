package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"slack-archiver/internal/domain"
	"slack-archiver/internal/infra/config"
	"slack-archiver/internal/infra/lock"
	"slack-archiver/internal/infra/queue"
)

const redisLockPrefix = "slack-archiver:lock:"

// backends внешние зависимости запуска: Redis и публикатор событий.
type backends struct {
	cfg       config.AppConfig
	redis     *redis.Client
	publisher domain.EventPublisher
	closers   []func() error
	logger    zerolog.Logger
}

func newBackends(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*backends, error) {
	b := &backends{cfg: cfg, logger: logger.With().Str("component", "backends").Logger()}

	needRedis := cfg.LockBackend == config.LockBackendRedis || cfg.Events.Backend == config.EventsBackendRedis
	if needRedis {
		b.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		b.closers = append(b.closers, b.redis.Close)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	switch cfg.Events.Backend {
	case config.EventsBackendRedis:
		b.publisher = queue.NewRedisPublisher(b.redis, cfg.Events.Queue)
	case config.EventsBackendRabbit:
		pub, err := queue.NewRabbitPublisher(cfg.Events.RabbitMQURL, cfg.Events.Queue)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.publisher = pub
		b.closers = append(b.closers, pub.Close)
	}
	if b.publisher != nil {
		b.logger.Info().Str("backend", cfg.Events.Backend).Str("queue", cfg.Events.Queue).Msg("backends: публикация событий включена")
	}
	return b, nil
}

// LockSet возвращает метки загрузок для архива. nil означает метки-каталоги в самом архиве.
func (b *backends) LockSet(root string) domain.LockSet {
	switch b.cfg.LockBackend {
	case config.LockBackendMemory:
		return lock.NewMemorySet()
	case config.LockBackendRedis:
		return lock.NewRedisSet(b.redis, redisLockPrefix+root+":", b.cfg.LockTTL)
	default:
		return nil
	}
}

func (b *backends) Close() {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	if err := errors.Join(errs...); err != nil {
		b.logger.Warn().Err(err).Msg("backends: ошибка при закрытии")
	}
}
