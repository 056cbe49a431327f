// Package outbound describes messages the bot wants delivered. The router
// returns intents and never talks to the network itself.
package outbound

import (
	"github.com/lessondrip/coursebot/internal/domain/shared"
)

// Kind selects the Bot API method used for an intent.
type Kind string

const (
	KindVideo Kind = "video"
	KindText  Kind = "text"
)

// Intent is a single message to send.
type Intent struct {
	Kind     Kind
	ChatID   shared.ChatID
	MediaRef string // video only
	Caption  string // video only
	Text     string // text only
}

// Video builds a video intent.
func Video(chatID shared.ChatID, mediaRef, caption string) Intent {
	return Intent{Kind: KindVideo, ChatID: chatID, MediaRef: mediaRef, Caption: caption}
}

// Text builds a text intent. Text is sent with HTML parse mode.
func Text(chatID shared.ChatID, text string) Intent {
	return Intent{Kind: KindText, ChatID: chatID, Text: text}
}

// Batch is the ordered list of intents produced for one inbound event.
// Intents within a batch must be delivered in order.
type Batch struct {
	UpdateID int64
	Intents  []Intent
}

// Empty reports whether there is nothing to send.
func (b Batch) Empty() bool {
	return len(b.Intents) == 0
}
