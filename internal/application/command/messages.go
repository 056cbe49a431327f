package command

import (
	"fmt"
	"html"
)

// Messages holds the user-facing texts. Texts are sent with HTML parse mode.
type Messages struct {
	// PaymentPrompt is a format string with one %s verb for the checkout link.
	PaymentPrompt string

	// ActivationThanks follows the full catalog after a successful activation.
	ActivationThanks string

	// ActivationMismatch is sent when the payment link belongs to another user.
	ActivationMismatch string

	// StartHint is sent to users without access who write anything but /start.
	StartHint string
}

// DefaultMessages returns the stock Russian texts.
func DefaultMessages() Messages {
	return Messages{
		PaymentPrompt:      "🔓 Чтобы получить полный курс, оплатите доступ:\n\n<a href=\"%s\">👉 Перейти к оплате</a>",
		ActivationThanks:   "✅ Спасибо за покупку! Вот ваш курс: все уроки отправлены выше.",
		ActivationMismatch: "⚠️ Эта ссылка оформлена на другой аккаунт Telegram. Откройте её с того аккаунта, с которого оплачивали курс.",
		StartHint:          "👋 Отправьте /start, чтобы начать.",
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	if m.PaymentPrompt == "" {
		m.PaymentPrompt = d.PaymentPrompt
	}
	if m.ActivationThanks == "" {
		m.ActivationThanks = d.ActivationThanks
	}
	if m.ActivationMismatch == "" {
		m.ActivationMismatch = d.ActivationMismatch
	}
	if m.StartHint == "" {
		m.StartHint = d.StartHint
	}
	return m
}

// paymentPrompt renders the prompt with the link escaped for an HTML attribute.
func (m Messages) paymentPrompt(link string) string {
	return fmt.Sprintf(m.PaymentPrompt, html.EscapeString(link))
}
