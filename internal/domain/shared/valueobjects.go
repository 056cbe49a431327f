package shared

import (
	"strconv"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// TelegramID represents a unique Telegram user identifier.
type TelegramID int64

// IsValid checks if the Telegram ID is valid (positive number).
func (t TelegramID) IsValid() bool {
	return t > 0
}

// Int64 returns the underlying int64 value.
func (t TelegramID) Int64() int64 {
	return int64(t)
}

// String returns the decimal representation.
func (t TelegramID) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// NewTelegramID creates a new TelegramID with validation.
func NewTelegramID(id int64) (TelegramID, error) {
	if id <= 0 {
		return 0, ErrInvalidUserID
	}
	return TelegramID(id), nil
}

// ParseTelegramID parses a decimal user id. Only ASCII digits are accepted,
// so signs, spaces and exponent forms are rejected.
func ParseTelegramID(s string) (TelegramID, error) {
	if s == "" || len(s) > 19 {
		return 0, ErrInvalidUserID
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrInvalidUserID
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, WrapError("entitlement", "Validate", ErrInvalidID, "invalid user ID", err)
	}
	return NewTelegramID(n)
}

// ChatID identifies a Telegram chat. Group chats have negative ids.
type ChatID int64

// IsValid reports whether the chat id is set.
func (c ChatID) IsValid() bool {
	return c != 0
}

// Int64 returns the underlying int64 value.
func (c ChatID) Int64() int64 {
	return int64(c)
}

// String returns the decimal representation.
func (c ChatID) String() string {
	return strconv.FormatInt(int64(c), 10)
}
