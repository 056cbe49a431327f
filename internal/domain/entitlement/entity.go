// Package entitlement содержит доменную модель доступа к платному курсу.
//
// Запись создаётся один раз, при первой подтверждённой активации по ссылке
// оплаты, и дальше только продвигается вперёд по каталогу уроков.
package entitlement

import (
	"time"

	"github.com/lessondrip/coursebot/internal/domain/shared"
)

// UserID - идентификатор пользователя Telegram.
type UserID = shared.TelegramID

// NoneDelivered - значение LastDeliveredIndex до отправки первого урока.
const NoneDelivered = -1

// Record - право пользователя на получение уроков.
type Record struct {
	UserID UserID

	// ActivatedAt задаётся при создании и больше не меняется.
	ActivatedAt time.Time

	// LastDeliveredIndex - индекс последнего отправленного урока.
	// Только растёт; -1 означает, что уроки ещё не отправлялись.
	LastDeliveredIndex int

	UpdatedAt time.Time
}

// NewRecord создаёт запись для только что активированного пользователя.
func NewRecord(userID UserID, activatedAt time.Time) (*Record, error) {
	if !userID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	return &Record{
		UserID:             userID,
		ActivatedAt:        activatedAt,
		LastDeliveredIndex: NoneDelivered,
		UpdatedAt:          activatedAt,
	}, nil
}

// Advance поднимает LastDeliveredIndex до index. Меньшее значение игнорируется,
// поэтому индекс никогда не уменьшается. Возвращает true, если запись изменилась.
func (r *Record) Advance(index int, now time.Time) (bool, error) {
	if index < NoneDelivered {
		return false, shared.ErrInvalidLessonIndex
	}
	if index <= r.LastDeliveredIndex {
		return false, nil
	}
	r.LastDeliveredIndex = index
	r.UpdatedAt = now
	return true, nil
}

// Clone возвращает копию записи. Хранилища отдают копии, чтобы вызывающий
// код не мог изменить сохранённое состояние в обход Advance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
