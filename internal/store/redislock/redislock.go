// Package redislock provides a store.Locker shared by every process that points
// at the same Redis, for deployments where several processes write one database.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultTTL     = 30 * time.Second
	defaultBackoff = 25 * time.Millisecond
	defaultRetries = 400
)

var ErrNotObtained = errors.New("lock not obtained")

type Locker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  redislock.RetryStrategy
	logger zerolog.Logger
}

type Option func(*Locker)

// WithTTL bounds how long a crashed holder can block others.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithRetry(backoff time.Duration, attempts int) Option {
	return func(l *Locker) {
		l.retry = redislock.LimitRetry(redislock.LinearBackoff(backoff), attempts)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Locker) {
		l.logger = logger
	}
}

func New(client redis.UniversalClient, prefix string, opts ...Option) *Locker {
	l := &Locker{
		client: redislock.New(client),
		prefix: prefix,
		ttl:    defaultTTL,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(defaultBackoff), defaultRetries),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock retries until the lock is free, the retry budget runs out or ctx is done.
func (l *Locker) Lock(ctx context.Context, name string) (func(), error) {
	key := l.prefix + name
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, name)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", name, err)
	}

	return func() {
		// Release must outlive a cancelled request context.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn().Err(err).Str("lock", key).Msg("release lock")
		}
	}, nil
}
