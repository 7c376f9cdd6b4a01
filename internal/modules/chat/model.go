// README: Per-trip chat message record.
package chat

import (
	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

type Sender string

const (
	SenderDriver    Sender = "driver"
	SenderPassenger Sender = "passenger"
)

// Message mirrors chats/{tripId}/messages/{msgId}.
type Message struct {
	ID        types.ID `json:"-"`
	Text      string   `json:"text"`
	Sender    Sender   `json:"sender"`
	Timestamp int64    `json:"timestamp"`
}

// QuickReplies are the canned driver responses offered while en route.
var QuickReplies = []string{
	"I'm on my way.",
	"I've arrived at the pickup point.",
	"Please wait a few minutes.",
	"I can't find you, please call me.",
}

func MessagesPath(tripID types.ID) string {
	return realtime.Join("chats", string(tripID), "messages")
}
