// Package payment описывает связь между внешней страницей оплаты и ботом:
// шаблон ссылки на оплату и параметр deep-link, по которому бот
// открывает доступ после возврата пользователя.
package payment

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lessondrip/coursebot/internal/domain/shared"
)

// DefaultActivationPrefix - префикс параметра /start после оплаты.
const DefaultActivationPrefix = "paid_"

// UserPlaceholder подставляется в шаблон ссылки на оплату.
const UserPlaceholder = "{USER_ID}"

// Activation разбирает и строит параметр deep-link вида "<prefix><user id>".
type Activation struct {
	prefix string
}

// NewActivation создаёт разборщик с заданным префиксом.
// Пустой префикс заменяется на DefaultActivationPrefix.
func NewActivation(prefix string) Activation {
	if prefix == "" {
		prefix = DefaultActivationPrefix
	}
	return Activation{prefix: prefix}
}

// Parse извлекает id пользователя из параметра.
// ErrNotActivationToken - у параметра другой префикс.
// ErrMalformedActivationToken - префикс совпал, но после него не десятичное число.
func (a Activation) Parse(param string) (shared.TelegramID, error) {
	rest, ok := strings.CutPrefix(param, a.prefix)
	if !ok {
		return 0, shared.ErrNotActivationToken
	}
	id, err := shared.ParseTelegramID(rest)
	if err != nil {
		return 0, shared.WrapError("payment", "ParseActivation", shared.ErrMalformedActivationToken, "malformed activation token", err)
	}
	return id, nil
}

// Param строит параметр для пользователя.
func (a Activation) Param(userID shared.TelegramID) string {
	return a.prefix + userID.String()
}

// ReturnURL - шаблон ссылки возврата из платёжной системы в бота.
// Платёжная система подставляет id пользователя вместо UserPlaceholder.
func (a Activation) ReturnURL(botUsername string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", botUsername, url.QueryEscape(a.prefix), UserPlaceholder)
}

// Checkout - шаблон ссылки на страницу оплаты.
type Checkout struct {
	template string
}

// NewCheckout проверяет, что шаблон содержит UserPlaceholder.
func NewCheckout(template string) (Checkout, error) {
	if !strings.Contains(template, UserPlaceholder) {
		return Checkout{}, shared.ErrInvalidCheckoutTemplate
	}
	return Checkout{template: template}, nil
}

// Link возвращает ссылку на оплату для пользователя.
func (c Checkout) Link(userID shared.TelegramID) string {
	return strings.ReplaceAll(c.template, UserPlaceholder, userID.String())
}
