package telegram

import (
	"context"

	"github.com/lessondrip/coursebot/internal/domain/shared"
)

// Gateway adapts Client to the two sends the dispatcher needs.
// Captions and texts are always sent with HTML parse mode.
type Gateway struct {
	client         *Client
	protectContent bool
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithProtectedContent marks lesson videos as non-forwardable.
func WithProtectedContent(enabled bool) GatewayOption {
	return func(g *Gateway) { g.protectContent = enabled }
}

// NewGateway creates a gateway over client.
func NewGateway(client *Client, opts ...GatewayOption) *Gateway {
	g := &Gateway{client: client}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SendVideo sends a video by file_id.
func (g *Gateway) SendVideo(ctx context.Context, chatID shared.ChatID, mediaRef, caption string) error {
	_, err := g.client.SendVideo(ctx, SendVideoParams{
		ChatID:         chatID.Int64(),
		Video:          mediaRef,
		Caption:        caption,
		ParseMode:      ParseModeHTML,
		ProtectContent: g.protectContent,
	})
	return classify("SendVideo", err)
}

// SendText sends an HTML text message.
func (g *Gateway) SendText(ctx context.Context, chatID shared.ChatID, text string) error {
	_, err := g.client.SendHTML(ctx, chatID.Int64(), text)
	return classify("SendText", err)
}

// classify tags Bot API failures with a shared error kind so the dispatcher
// can tell an unreachable recipient from an outage. The original error stays
// in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case IsUserBlocked(err) || IsChatNotFound(err):
		return shared.WrapError("telegram", op, shared.ErrForbidden, "recipient unavailable", err)
	case IsRateLimited(err):
		return shared.WrapError("telegram", op, shared.ErrRateLimited, "rate limited", err)
	default:
		return err
	}
}
