package transport

import (
	"context"

	logx "recurswap/pkg/logx"
)

// LogSender writes messages to the log. It is the default transport when no
// chat platform is configured.
type LogSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) *LogSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSender{log: log}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(ctx context.Context, to ChatTarget, text string, _ *SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := []logx.Field{logx.String("text", text)}
	if to.ChatID != 0 {
		fields = append(fields, logx.Int64("chat_id", to.ChatID))
	}
	l.log.Info("notification", fields...)
	return nil
}
