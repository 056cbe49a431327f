package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lessondrip/coursebot/internal/domain/entitlement"
	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/pkg/timeutil"
)

// Hash fields. Timestamps are unix milliseconds.
const (
	fieldActivatedAt = "activated_at"
	fieldLastIndex   = "last_index"
	fieldUpdatedAt   = "updated_at"
)

// StoreConfig configures the entitlement store.
type StoreConfig struct {
	// KeyPrefix namespaces all keys, e.g. "coursebot:".
	KeyPrefix string

	// LockTTL bounds how long a crashed holder can block a user.
	LockTTL time.Duration

	// LockRetryInterval is the pause between lock attempts.
	LockRetryInterval time.Duration

	Clock timeutil.Clock
}

// DefaultStoreConfig returns default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		KeyPrefix:         "coursebot:",
		LockTTL:           TTLDistributedLock,
		LockRetryInterval: 25 * time.Millisecond,
		Clock:             timeutil.SystemClock{},
	}
}

// EntitlementStore is an entitlement.Store backed by Redis hashes.
type EntitlementStore struct {
	client  redis.UniversalClient
	config  StoreConfig
	scripts map[string]*redis.Script
}

var _ entitlement.Store = (*EntitlementStore)(nil)

// NewEntitlementStore creates a store on an existing client.
func NewEntitlementStore(client redis.UniversalClient, cfg StoreConfig) (*EntitlementStore, error) {
	if client == nil {
		return nil, errors.New("redis: client is required")
	}

	def := DefaultStoreConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockRetryInterval <= 0 {
		cfg.LockRetryInterval = def.LockRetryInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	s := &EntitlementStore{
		client:  client,
		config:  cfg,
		scripts: make(map[string]*redis.Script),
	}
	s.initScripts()
	return s, nil
}

func (s *EntitlementStore) initScripts() {
	// KEYS[1] = entitlement hash
	// ARGV[1] = now (unix ms)
	// Returns {created, activated_at, last_index, updated_at}
	s.scripts["create"] = redis.NewScript(`
		local key = KEYS[1]
		if redis.call('EXISTS', key) == 1 then
			local v = redis.call('HMGET', key, 'activated_at', 'last_index', 'updated_at')
			return {0, v[1], v[2], v[3]}
		end
		redis.call('HSET', key, 'activated_at', ARGV[1], 'last_index', '-1', 'updated_at', ARGV[1])
		return {1, ARGV[1], '-1', ARGV[1]}
	`)

	// KEYS[1] = entitlement hash
	// ARGV[1] = index, ARGV[2] = now (unix ms)
	// Returns nil when the record is missing.
	s.scripts["advance"] = redis.NewScript(`
		local key = KEYS[1]
		if redis.call('EXISTS', key) == 0 then
			return false
		end
		local current = tonumber(redis.call('HGET', key, 'last_index'))
		local index = tonumber(ARGV[1])
		if index > current then
			redis.call('HSET', key, 'last_index', ARGV[1], 'updated_at', ARGV[2])
		end
		local v = redis.call('HMGET', key, 'activated_at', 'last_index', 'updated_at')
		return {1, v[1], v[2], v[3]}
	`)

	// KEYS[1] = lock key, ARGV[1] = owner token
	s.scripts["unlock"] = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0
	`)
}

func (s *EntitlementStore) recordKey(userID entitlement.UserID) string {
	return s.config.KeyPrefix + EntitlementKey(userID.Int64())
}

func (s *EntitlementStore) lockKey(userID entitlement.UserID) string {
	return s.config.KeyPrefix + LockKey(EntitlementKey(userID.Int64()))
}

// Get returns the user's record.
func (s *EntitlementStore) Get(ctx context.Context, userID entitlement.UserID) (*entitlement.Record, error) {
	values, err := s.client.HMGet(ctx, s.recordKey(userID), fieldActivatedAt, fieldLastIndex, fieldUpdatedAt).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get entitlement: %w", err)
	}
	if len(values) != 3 || values[0] == nil {
		return nil, shared.ErrEntitlementNotFound
	}
	return decodeRecord(userID, values)
}

// CreateIfAbsent creates the record atomically with a Lua script.
func (s *EntitlementStore) CreateIfAbsent(ctx context.Context, userID entitlement.UserID, now time.Time) (*entitlement.Record, bool, error) {
	if !userID.IsValid() {
		return nil, false, shared.ErrInvalidUserID
	}

	res, err := s.scripts["create"].Run(ctx, s.client, []string{s.recordKey(userID)}, now.UnixMilli()).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("redis: failed to create entitlement: %w", err)
	}
	if len(res) != 4 {
		return nil, false, ErrCorruptRecord
	}

	created, _ := res[0].(int64)
	record, err := decodeRecord(userID, res[1:])
	if err != nil {
		return nil, false, err
	}
	return record, created == 1, nil
}

// Advance raises last_index inside a Lua script so concurrent callers can
// never lower it.
func (s *EntitlementStore) Advance(ctx context.Context, userID entitlement.UserID, index int) (*entitlement.Record, error) {
	if index < entitlement.NoneDelivered {
		return nil, shared.ErrInvalidLessonIndex
	}

	res, err := s.scripts["advance"].Run(ctx, s.client, []string{s.recordKey(userID)},
		index, s.config.Clock.Now().UnixMilli()).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("redis: failed to advance entitlement: %w", err)
	}
	if len(res) != 4 {
		return nil, ErrCorruptRecord
	}
	return decodeRecord(userID, res[1:])
}

// Lock takes a SET NX lock with a random owner token, polling until it is
// acquired or ctx is done. The lock expires after LockTTL if never released.
func (s *EntitlementStore) Lock(ctx context.Context, userID entitlement.UserID) (func(), error) {
	key := s.lockKey(userID)
	token := uuid.NewString()

	ticker := time.NewTicker(s.config.LockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := s.client.SetNX(ctx, key, token, s.config.LockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: failed to acquire lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, shared.WrapError("entitlement", "Lock", shared.ErrEntitlementLocked, "entitlement is locked", ctx.Err())
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.scripts["unlock"].Run(unlockCtx, s.client, []string{key}, token).Err()
	}, nil
}

// Ping checks if Redis is reachable.
func (s *EntitlementStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// decodeRecord builds a record from {activated_at, last_index, updated_at}.
func decodeRecord(userID entitlement.UserID, values []interface{}) (*entitlement.Record, error) {
	nums := make([]int64, len(values))
	for i, v := range values {
		var (
			n   int64
			err error
		)
		switch t := v.(type) {
		case int64:
			n = t
		case string:
			n, err = strconv.ParseInt(t, 10, 64)
		default:
			err = fmt.Errorf("unexpected type %T", v)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrCorruptRecord, i, err)
		}
		nums[i] = n
	}

	return &entitlement.Record{
		UserID:             userID,
		ActivatedAt:        time.UnixMilli(nums[0]).UTC(),
		LastDeliveredIndex: int(nums[1]),
		UpdatedAt:          time.UnixMilli(nums[2]).UTC(),
	}, nil
}
