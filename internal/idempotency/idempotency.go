// Package idempotency remembers which order an Idempotency-Key produced.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultPendingTTL bounds how long an unfinished reservation blocks retries.
const DefaultPendingTTL = time.Minute

const sweepInterval = time.Minute

var (
	// ErrInProgress is returned when another request holds the key.
	ErrInProgress = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused is returned when a key comes back with a different request.
	ErrKeyReused = errors.New("idempotency key was already used with a different request")
)

// Store reserves keys and records the order they produced. Every key is
// bound to the fingerprint of the request that first used it.
type Store interface {
	// Begin reserves key. If the key already completed, it returns the order
	// id and done=true. If another request holds it, it returns ErrInProgress.
	// A fingerprint that differs from the stored one returns ErrKeyReused.
	Begin(ctx context.Context, key, fingerprint string) (orderID int64, done bool, err error)
	// Complete binds key to orderID for the store's TTL.
	Complete(ctx context.Context, key, fingerprint string, orderID int64) error
	// Release drops a reservation so the key can be retried.
	Release(ctx context.Context, key string) error
}

// Fingerprint hashes the JSON encoding of v.
func Fingerprint(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode request for fingerprint: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func pendingTTLOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPendingTTL
	}
	return d
}

type memoryEntry struct {
	orderID     int64
	fingerprint string
	done        bool
	expiresAt   time.Time
}

// MemoryStore is a process-local Store. Expired entries are swept on Begin.
type MemoryStore struct {
	ttl        time.Duration
	pendingTTL time.Duration
	now        func() time.Time

	mu        sync.Mutex
	entries   map[string]memoryEntry
	nextSweep time.Time
}

// NewMemoryStore keeps completed keys for ttl and unfinished reservations for
// pendingTTL (DefaultPendingTTL when zero).
func NewMemoryStore(ttl, pendingTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:        ttl,
		pendingTTL: pendingTTLOr(pendingTTL),
		now:        time.Now,
		entries:    make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)

	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if e.fingerprint != fingerprint {
			return 0, false, ErrKeyReused
		}
		if !e.done {
			return 0, false, ErrInProgress
		}
		return e.orderID, true, nil
	}
	s.entries[key] = memoryEntry{fingerprint: fingerprint, expiresAt: now.Add(s.pendingTTL)}
	return 0, false, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{orderID: orderID, fingerprint: fingerprint, done: true, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// sweep drops expired entries at most once per sweepInterval. Caller holds mu.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.nextSweep = now.Add(sweepInterval)
}
