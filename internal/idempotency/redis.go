package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "stockledger:idempotency:"
	pendingMarker = "pending"
)

// RedisStore keeps keys in Redis so replays work across instances. Values are
// "pending|<fingerprint>" while the order is placed and "<orderID>|<fingerprint>"
// once it committed.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewRedisStore keeps completed keys for ttl and unfinished reservations for
// pendingTTL (DefaultPendingTTL when zero).
func NewRedisStore(client *redis.Client, ttl, pendingTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, pendingTTL: pendingTTLOr(pendingTTL)}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func encodeValue(state, fingerprint string) string {
	return state + "|" + fingerprint
}

// decodeValue reads a stored value. A pending reservation returns id 0 and done=false.
func decodeValue(val, fingerprint string) (int64, bool, error) {
	state, stored, _ := strings.Cut(val, "|")
	if stored != fingerprint {
		return 0, false, ErrKeyReused
	}
	if state == pendingMarker {
		return 0, false, ErrInProgress
	}
	id, err := strconv.ParseInt(state, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency value %q: %w", val, err)
	}
	return id, true, nil
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string) (int64, bool, error) {
	k := keyPrefix + key
	// One retry covers a key that expires between SETNX and GET.
	for range 2 {
		ok, err := s.client.SetNX(ctx, k, encodeValue(pendingMarker, fingerprint), s.pendingTTL).Result()
		if err != nil {
			return 0, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if ok {
			return 0, false, nil
		}

		val, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, false, fmt.Errorf("failed to read idempotency key: %w", err)
		}
		return decodeValue(val, fingerprint)
	}
	return 0, false, ErrInProgress
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, orderID int64) error {
	val := encodeValue(strconv.FormatInt(orderID, 10), fingerprint)
	if err := s.client.Set(ctx, keyPrefix+key, val, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency result: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
