// Package transport defines the outbound message surface used by the
// notifier. Implementations deliver text to one chat platform or sink.
package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Message is one notification handed to the notifier pipeline.
type Message struct {
	Channel  string // sender name, e.g. "telegram" or "log"
	Priority int    // 0 low.. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

// Sender delivers text. Send must honor ctx cancellation.
type Sender interface {
	Name() string
	Send(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}
