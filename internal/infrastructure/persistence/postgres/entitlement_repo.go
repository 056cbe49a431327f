package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lessondrip/coursebot/internal/domain/entitlement"
	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITLEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// Lock lease defaults.
const (
	DefaultLockTTL           = 30 * time.Second
	DefaultLockRetryInterval = 25 * time.Millisecond
)

// EntitlementRepository implements entitlement.Store for PostgreSQL.
type EntitlementRepository struct {
	conn          *Connection
	clock         timeutil.Clock
	lockTTL       time.Duration
	retryInterval time.Duration
}

var _ entitlement.Store = (*EntitlementRepository)(nil)

// NewEntitlementRepository creates a new EntitlementRepository.
func NewEntitlementRepository(conn *Connection, clock timeutil.Clock) *EntitlementRepository {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &EntitlementRepository{
		conn:          conn,
		clock:         clock,
		lockTTL:       DefaultLockTTL,
		retryInterval: DefaultLockRetryInterval,
	}
}

// Get returns the record for a user.
func (r *EntitlementRepository) Get(ctx context.Context, userID entitlement.UserID) (*entitlement.Record, error) {
	query := `
		SELECT activated_at, last_delivered_index, updated_at
		FROM entitlements
		WHERE user_id = $1
	`

	row := r.conn.QueryRow(ctx, query, userID.Int64())
	rec, err := scanEntitlement(userID, row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get entitlement: %w", err)
	}
	return rec, nil
}

// CreateIfAbsent inserts the record, leaving an existing one untouched.
func (r *EntitlementRepository) CreateIfAbsent(ctx context.Context, userID entitlement.UserID, now time.Time) (*entitlement.Record, bool, error) {
	if !userID.IsValid() {
		return nil, false, shared.ErrInvalidUserID
	}

	query := `
		INSERT INTO entitlements (user_id, activated_at, last_delivered_index, updated_at)
		VALUES ($1, $2, $3, $2)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING activated_at, last_delivered_index, updated_at
	`

	row := r.conn.QueryRow(ctx, query, userID.Int64(), now.UTC(), entitlement.NoneDelivered)
	rec, err := scanEntitlement(userID, row)
	if err == nil {
		return rec, true, nil
	}
	if !IsNoRows(err) {
		return nil, false, fmt.Errorf("postgres: failed to create entitlement: %w", err)
	}

	// Conflict: the record already exists.
	rec, err = r.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// Advance raises last_delivered_index with GREATEST so it never decreases.
func (r *EntitlementRepository) Advance(ctx context.Context, userID entitlement.UserID, index int) (*entitlement.Record, error) {
	if index < entitlement.NoneDelivered {
		return nil, shared.ErrInvalidLessonIndex
	}

	query := `
		UPDATE entitlements SET
			updated_at = CASE WHEN $2 > last_delivered_index THEN $3 ELSE updated_at END,
			last_delivered_index = GREATEST(last_delivered_index, $2)
		WHERE user_id = $1
		RETURNING activated_at, last_delivered_index, updated_at
	`

	row := r.conn.QueryRow(ctx, query, userID.Int64(), index, r.clock.Now().UTC())
	rec, err := scanEntitlement(userID, row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("postgres: failed to advance entitlement: %w", err)
	}
	return rec, nil
}

// Lock takes a lease row in entitlement_locks, polling while another holder
// has an unexpired lease. No pool connection is held while the lease is.
func (r *EntitlementRepository) Lock(ctx context.Context, userID entitlement.UserID) (func(), error) {
	query := `
		INSERT INTO entitlement_locks (user_id, token, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (user_id) DO UPDATE SET
			token = EXCLUDED.token,
			expires_at = EXCLUDED.expires_at
		WHERE entitlement_locks.expires_at < NOW()
		RETURNING token
	`

	token := uuid.NewString()

	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		var got string
		err := r.conn.QueryRow(ctx, query, userID.Int64(), token, r.lockTTL.Seconds()).Scan(&got)
		if err == nil {
			break
		}
		if !IsNoRows(err) {
			if ctx.Err() != nil {
				return nil, shared.WrapError("entitlement", "Lock", shared.ErrEntitlementLocked, "entitlement is locked", ctx.Err())
			}
			return nil, fmt.Errorf("postgres: failed to acquire lock: %w", err)
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

		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// A failed delete leaves the lease to expire on its own.
		_, _ = r.conn.Exec(unlockCtx, "DELETE FROM entitlement_locks WHERE user_id = $1 AND token = $2", userID.Int64(), token)
	}, nil
}

// Ping checks if the database connection is alive.
func (r *EntitlementRepository) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

func scanEntitlement(userID entitlement.UserID, row pgx.Row) (*entitlement.Record, error) {
	var (
		activatedAt time.Time
		lastIndex   int
		updatedAt   time.Time
	)
	if err := row.Scan(&activatedAt, &lastIndex, &updatedAt); err != nil {
		return nil, err
	}
	return &entitlement.Record{
		UserID:             userID,
		ActivatedAt:        activatedAt.UTC(),
		LastDeliveredIndex: lastIndex,
		UpdatedAt:          updatedAt.UTC(),
	}, nil
}
