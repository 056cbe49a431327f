package payment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lessondrip/coursebot/internal/domain/shared"
)

func TestActivation_Parse(t *testing.T) {
	a := NewActivation("")

	tests := []struct {
		name    string
		param   string
		want    shared.TelegramID
		wantErr error
	}{
		{"valid", "paid_12345", 12345, nil},
		{"max int64", "paid_9223372036854775807", 9223372036854775807, nil},
		{"other prefix", "promo_12345", 0, shared.ErrNotActivationToken},
		{"empty", "", 0, shared.ErrNotActivationToken},
		{"prefix only", "paid_", 0, shared.ErrInvalidFormat},
		{"trailing garbage", "paid_123abc", 0, shared.ErrInvalidFormat},
		{"negative", "paid_-5", 0, shared.ErrInvalidFormat},
		{"plus sign", "paid_+5", 0, shared.ErrInvalidFormat},
		{"zero", "paid_0", 0, shared.ErrInvalidFormat},
		{"overflow", "paid_9223372036854775808", 0, shared.ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Parse(tt.param)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActivation_CustomPrefix(t *testing.T) {
	a := NewActivation("paid")

	id, err := a.Parse("paid777")
	assert.NoError(t, err)
	assert.Equal(t, shared.TelegramID(777), id)
	assert.Equal(t, "paid777", a.Param(777))
}

func TestActivation_ReturnURL(t *testing.T) {
	a := NewActivation(DefaultActivationPrefix)
	assert.Equal(t, "https://t.me/NailsCourseBot?start=paid_{USER_ID}", a.ReturnURL("NailsCourseBot"))

	id, err := a.Parse(a.Param(42))
	assert.NoError(t, err)
	assert.Equal(t, shared.TelegramID(42), id)
}

func TestActivation_MalformedTokenKind(t *testing.T) {
	_, err := NewActivation("").Parse("paid_x")
	assert.ErrorIs(t, err, shared.ErrMalformedActivationToken)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestCheckout(t *testing.T) {
	_, err := NewCheckout("https://pay.example/form")
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)

	c, err := NewCheckout("https://pay.example/form?order={USER_ID}&ref={USER_ID}")
	assert.NoError(t, err)
	assert.Equal(t, "https://pay.example/form?order=99&ref=99", c.Link(99))
}
