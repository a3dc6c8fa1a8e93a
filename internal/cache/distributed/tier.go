// Package distributed implements the networked cache tier on top of a
// pooled Redis client guarded by a circuit breaker and a timeout retrier.
package distributed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/graphcache/internal/config"
	"goflare.io/graphcache/internal/retrier"
)

const scanBatch = 500

var (
	// ErrNotFound is returned when a key does not exist in the backend.
	ErrNotFound = errors.New("key not found in distributed tier")
	// ErrUnavailable wraps every connectivity, timeout or open-breaker failure.
	ErrUnavailable = errors.New("distributed tier unavailable")
)

// Tier is the distributed cache tier.
type Tier struct {
	client  redis.UniversalClient
	breaker *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// NewClient builds the pooled Redis client described by cfg.
func NewClient(cfg config.DistributedConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.MaxPoolConnections,
		DialTimeout:     cfg.ConnectTimeout,
		ReadTimeout:     cfg.SocketTimeout,
		WriteTimeout:    cfg.SocketTimeout,
		ConnMaxIdleTime: cfg.HealthCheckInterval,
		// retries are owned by the Tier's retrier
		MaxRetries: -1,
	})
}

// New wraps client with the breaker and retrier configured in cfg.
func New(client redis.UniversalClient, cfg *config.Config) (*Tier, error) {
	attempts := 1
	if cfg.Distributed.RetryOnTimeout {
		attempts = cfg.Resilience.MaxRetries
	}

	strategy, err := retrier.ParseStrategy(cfg.Resilience.Backoff)
	if err != nil {
		return nil, err
	}

	r, err := retrier.NewRetrier(
		attempts,
		cfg.Resilience.InitialInterval,
		cfg.Resilience.MaxInterval,
		cfg.Resilience.Multiplier,
		cfg.Resilience.RandomizationFactor,
		strategy,
		retrier.IsTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	logger := cfg.Logger
	failures := cfg.Resilience.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graphcache-distributed",
		MaxRequests: 1,
		Interval:    cfg.Resilience.BreakerInterval,
		Timeout:     cfg.Resilience.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Distributed tier circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Tier{
		client:  client,
		breaker: breaker,
		retrier: r,
		logger:  logger,
	}, nil
}

// Key builds the raw backend key of a namespaced key.
func Key(prefix, key string) string {
	if prefix == "" {
		prefix = config.DefaultKeyPrefix
	}
	return prefix + key
}

func (t *Tier) execute(ctx context.Context, fn func() error) error {
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.retrier.Run(ctx, fn)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// Get returns the payload stored under rawKey.
func (t *Tier) Get(ctx context.Context, rawKey string) ([]byte, error) {
	var data []byte
	err := t.execute(ctx, func() error {
		var err error
		data, err = t.client.Get(ctx, rawKey).Bytes()
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// GetWithTTL returns the payload stored under rawKey and its remaining backend expiry,
// read in one round trip. A key without expiry reports a zero TTL.
func (t *Tier) GetWithTTL(ctx context.Context, rawKey string) ([]byte, time.Duration, error) {
	var (
		data []byte
		ttl  time.Duration
	)
	err := t.execute(ctx, func() error {
		var get *redis.StringCmd
		var pttl *redis.DurationCmd
		if _, err := t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			get = pipe.Get(ctx, rawKey)
			pttl = pipe.PTTL(ctx, rawKey)
			return nil
		}); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		var err error
		if data, err = get.Bytes(); err != nil {
			return err
		}
		ttl, err = pttl.Result()
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return data, ttl, nil
}

// SetWithExpiry stores payload under rawKey with a backend-native expiry.
func (t *Tier) SetWithExpiry(ctx context.Context, rawKey string, payload []byte, ttl time.Duration) error {
	return t.execute(ctx, func() error {
		return t.client.Set(ctx, rawKey, payload, ttl).Err()
	})
}

// Delete removes rawKey.
func (t *Tier) Delete(ctx context.Context, rawKey string) error {
	return t.execute(ctx, func() error {
		return t.client.Del(ctx, rawKey).Err()
	})
}

// Exists reports whether rawKey is present.
func (t *Tier) Exists(ctx context.Context, rawKey string) (bool, error) {
	var n int64
	if err := t.execute(ctx, func() error {
		var err error
		n, err = t.client.Exists(ctx, rawKey).Result()
		return err
	}); err != nil {
		return false, err
	}
	return n > 0, nil
}

// TTL returns the remaining backend expiry of rawKey.
func (t *Tier) TTL(ctx context.Context, rawKey string) (time.Duration, error) {
	var ttl time.Duration
	if err := t.execute(ctx, func() error {
		var err error
		ttl, err = t.client.PTTL(ctx, rawKey).Result()
		return err
	}); err != nil {
		return 0, err
	}
	// -2 means the key does not exist, -1 that it has no expiry
	switch {
	case ttl == -2:
		return 0, ErrNotFound
	case ttl < 0:
		return 0, nil
	}
	return ttl, nil
}

// ScanPrefix calls fn with each batch of keys that start with prefix.
func (t *Tier) ScanPrefix(ctx context.Context, prefix string, fn func(keys []string) error) error {
	pattern := EscapePattern(prefix) + "*"

	var cursor uint64
	for {
		var keys []string
		var next uint64
		if err := t.execute(ctx, func() error {
			k, c, err := t.client.Scan(ctx, cursor, pattern, scanBatch).Result()
			keys, next = k, c
			return err
		}); err != nil {
			return fmt.Errorf("failed to scan %q: %w", pattern, err)
		}

		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// DeleteByPrefix removes every key that starts with prefix and returns the count.
func (t *Tier) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	err := t.ScanPrefix(ctx, prefix, func(keys []string) error {
		return t.execute(ctx, func() error {
			n, err := t.client.Del(ctx, keys...).Result()
			deleted += n
			return err
		})
	})
	return deleted, err
}

// Ping checks connectivity, bypassing the breaker so startup always sees the real state.
func (t *Tier) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// State reports the circuit breaker state.
func (t *Tier) State() gobreaker.State {
	return t.breaker.State()
}

// Close closes the connection pool.
func (t *Tier) Close() error {
	return t.client.Close()
}

// EscapePattern escapes Redis glob metacharacters so prefix matches literally.
func EscapePattern(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
