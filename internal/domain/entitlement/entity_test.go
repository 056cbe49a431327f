package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lessondrip/coursebot/internal/domain/shared"
)

func TestNewRecord(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	r, err := NewRecord(42, now)
	assert.NoError(t, err)
	assert.Equal(t, UserID(42), r.UserID)
	assert.Equal(t, now, r.ActivatedAt)
	assert.Equal(t, NoneDelivered, r.LastDeliveredIndex)

	_, err = NewRecord(0, now)
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestRecord_AdvanceIsMonotonic(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r, _ := NewRecord(7, now)

	changed, err := r.Advance(2, now.Add(time.Hour))
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, r.LastDeliveredIndex)

	changed, err = r.Advance(1, now.Add(2*time.Hour))
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 2, r.LastDeliveredIndex)
	assert.Equal(t, now.Add(time.Hour), r.UpdatedAt)

	_, err = r.Advance(-5, now)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	now := time.Now()
	r, _ := NewRecord(7, now)

	c := r.Clone()
	_, _ = c.Advance(3, now)

	assert.Equal(t, NoneDelivered, r.LastDeliveredIndex)
	assert.Equal(t, 3, c.LastDeliveredIndex)
	assert.Nil(t, (*Record)(nil).Clone())
}
