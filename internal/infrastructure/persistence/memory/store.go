// Package memory provides the in-process entitlement store. State is lost on
// restart; a user recovers access by opening the payment deep link again.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lessondrip/coursebot/internal/domain/entitlement"
	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/pkg/timeutil"
)

// DefaultMaxUsers bounds the number of records kept in memory.
const DefaultMaxUsers = 100_000

// Config holds the memory store configuration.
type Config struct {
	MaxUsers int
	Clock    timeutil.Clock
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxUsers: DefaultMaxUsers,
		Clock:    timeutil.SystemClock{},
	}
}

// Store is an entitlement.Store backed by a bounded LRU cache.
// When MaxUsers is reached the least recently used record is evicted.
type Store struct {
	mu      sync.Mutex
	records *lru.Cache[entitlement.UserID, *entitlement.Record]
	locks   *keyedMutex
	clock   timeutil.Clock
}

var _ entitlement.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = DefaultMaxUsers
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}

	records, err := lru.New[entitlement.UserID, *entitlement.Record](cfg.MaxUsers)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to create cache: %w", err)
	}

	return &Store{
		records: records,
		locks:   newKeyedMutex(),
		clock:   cfg.Clock,
	}, nil
}

// Get returns a copy of the user's record.
func (s *Store) Get(_ context.Context, userID entitlement.UserID) (*entitlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records.Get(userID)
	if !ok {
		return nil, shared.ErrEntitlementNotFound
	}
	return r.Clone(), nil
}

// CreateIfAbsent inserts a fresh record unless one exists.
func (s *Store) CreateIfAbsent(_ context.Context, userID entitlement.UserID, now time.Time) (*entitlement.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records.Get(userID); ok {
		return r.Clone(), false, nil
	}

	r, err := entitlement.NewRecord(userID, now)
	if err != nil {
		return nil, false, err
	}
	s.records.Add(userID, r)
	return r.Clone(), true, nil
}

// Advance raises the last delivered index, never lowering it.
func (s *Store) Advance(_ context.Context, userID entitlement.UserID, index int) (*entitlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records.Get(userID)
	if !ok {
		return nil, shared.ErrEntitlementNotFound
	}
	if _, err := r.Advance(index, s.clock.Now()); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Lock acquires the per-user mutex. It returns early with ctx.Err() if the
// context is cancelled while waiting.
func (s *Store) Lock(ctx context.Context, userID entitlement.UserID) (func(), error) {
	return s.locks.lock(ctx, userID)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Len returns the number of records held.
func (s *Store) Len() int {
	return s.records.Len()
}
