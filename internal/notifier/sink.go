package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"recurswap/internal/swap"
	"recurswap/internal/transport"
	logx "recurswap/pkg/logx"
)

// SwapSink adapts schedule notices to notifier messages. One message is
// queued per configured target; with no targets a single untargeted message
// is queued, which the log sender accepts.
type SwapSink struct {
	svc *Service
	log logx.Logger
}

var _ swap.Notifier = (*SwapSink)(nil)

func NewSwapSink(svc *Service, log logx.Logger) *SwapSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SwapSink{svc: svc, log: log}
}

func (k *SwapSink) Notify(ctx context.Context, n swap.Notice) {
	if k == nil || k.svc == nil {
		return
	}
	text, opts := FormatNotice(n), &transport.SendOptions{DisablePreview: true}
	if k.svc.SenderName() == "telegram" {
		text, opts.ParseMode = FormatNoticeHTML(n), "HTML"
	}
	targets := k.svc.Config().Targets
	if len(targets) == 0 {
		targets = []transport.ChatTarget{{}}
	}
	for _, t := range targets {
		err := k.svc.Notify(ctx, transport.Message{
			Priority: priorityFor(n.Kind),
			Target:   t,
			Text:     text,
			Options:  opts,
		})
		if err != nil && !errors.Is(err, ErrDisabled) {
			k.log.Debug("notice not queued", logx.String("kind", string(n.Kind)), logx.String("id", n.Schedule.ID), logx.Err(err))
		}
	}
}

func priorityFor(k swap.NoticeKind) int {
	switch k {
	case swap.NoticeFailed:
		return 7
	case swap.NoticeCompleted:
		return 5
	default:
		return 0
	}
}

// FormatNotice renders a notice as plain text.
func FormatNotice(n swap.Notice) string {
	s := n.Schedule
	name := s.ID
	if strings.TrimSpace(s.Label) != "" {
		name = fmt.Sprintf("%s (%s)", s.Label, s.ID)
	}
	plan := fmt.Sprintf("%s %s -> %s %s", s.AmountPerExecution.String(), s.SourceAsset, s.TargetCurrency, s.Frequency)

	var b strings.Builder
	switch n.Kind {
	case swap.NoticeCreated:
		fmt.Fprintf(&b, "Scheduled swap created: %s\n%s", name, plan)
		if s.NextExecutionAt != nil {
			fmt.Fprintf(&b, "\nFirst run: %s", s.NextExecutionAt.UTC().Format("2006-01-02 15:04 MST"))
		}
	case swap.NoticeSucceeded:
		fmt.Fprintf(&b, "Swap executed: %s\n%s", name, plan)
		if r := n.Record; r != nil {
			fmt.Fprintf(&b, "\nReceived %s %s at %s", r.ConvertedAmount.String(), s.TargetCurrency, r.RateApplied.String())
		}
		if s.Duration.Bounded() {
			fmt.Fprintf(&b, "\nProgress: %d/%d", s.CompletedExecutions, s.PlannedExecutions)
		}
	case swap.NoticeCompleted:
		fmt.Fprintf(&b, "Scheduled swap completed: %s\n%d executions", name, s.CompletedExecutions)
	case swap.NoticeFailed:
		fmt.Fprintf(&b, "Scheduled swap failed: %s\n%s\nReason: %s", name, plan, s.LastFailureReason)
	default:
		fmt.Fprintf(&b, "%s: %s", n.Kind, name)
	}
	return b.String()
}
