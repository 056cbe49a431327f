package entitlement

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACE
// Контракт хранилища прав доступа. Реализации находятся в
// infrastructure/persistence (memory, redis, postgres).
// ══════════════════════════════════════════════════════════════════════════════

// Store хранит записи Record, по одной на пользователя.
type Store interface {
	// Get возвращает запись пользователя.
	// Возвращает shared.ErrEntitlementNotFound, если записи нет.
	Get(ctx context.Context, userID UserID) (*Record, error)

	// CreateIfAbsent атомарно создаёт запись с ActivatedAt = now, если её ещё нет.
	// Возвращает актуальную запись и true, если запись была создана этим вызовом.
	CreateIfAbsent(ctx context.Context, userID UserID, now time.Time) (*Record, bool, error)

	// Advance устанавливает LastDeliveredIndex = max(текущий, index).
	// Возвращает shared.ErrEntitlementNotFound, если записи нет.
	Advance(ctx context.Context, userID UserID, index int) (*Record, error)

	// Lock захватывает эксклюзивную блокировку пользователя на время
	// последовательности чтение-решение-запись. unlock нужно вызвать ровно один раз.
	Lock(ctx context.Context, userID UserID) (unlock func(), err error)
}

// Pinger - хранилище, доступность которого можно проверить.
type Pinger interface {
	Ping(ctx context.Context) error
}
