package types

import "context"

// Message is a single inbound user action or an outbound reply/notification.
type Message struct {
	ID        string
	Content   string
	Role      string // "user", "bot"
	ChannelID string // source channel identifier (e.g. "telegram", "cli")
	ChatID    string // external user identity
	FirstName string
	Username  string
	ReplyToID string
	Meta      map[string]interface{}
}

const (
	MessageRoleUser = "user"
	MessageRoleBot  = "bot"
)

// Responder turns an inbound message into a reply.
type Responder interface {
	Handle(ctx context.Context, msg Message) (Message, error)
}

// Channel is an input/output interface (Telegram, CLI, HTTP).
type Channel interface {
	Start(ctx context.Context, handler func(Message)) error
	Send(ctx context.Context, msg Message) error
	ID() string
}

// Notifier delivers an asynchronous notification to a chat on a channel.
type Notifier interface {
	Notify(ctx context.Context, channelID string, chatID string, text string) error
}
