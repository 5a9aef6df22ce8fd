package notifier

import (
	"fmt"
	"html"
	"strings"

	"recurswap/internal/swap"
)

// htmlText is markup that is safe to send with ParseMode "HTML".
// Values of this type are already escaped.
type htmlText string

func esc(s string) htmlText { return htmlText(html.EscapeString(s)) }

func wrap(tag string, inner htmlText) htmlText {
	return htmlText("<" + tag + ">" + string(inner) + "</" + tag + ">")
}

func bold(s string) htmlText   { return wrap("b", esc(s)) }
func code(s string) htmlText   { return wrap("code", esc(s)) }
func italic(s string) htmlText { return wrap("i", esc(s)) }

func joinLines(parts ...htmlText) htmlText {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		ss = append(ss, string(p))
	}
	return htmlText(strings.Join(ss, "\n"))
}

// FormatNoticeHTML renders a notice for Telegram's HTML parse mode.
func FormatNoticeHTML(n swap.Notice) string {
	s := n.Schedule
	name := code(s.ID)
	if strings.TrimSpace(s.Label) != "" {
		name = esc(s.Label) + " (" + code(s.ID) + ")"
	}
	plan := esc(fmt.Sprintf("%s %s → %s, %s", s.AmountPerExecution.String(), s.SourceAsset, s.TargetCurrency, s.Frequency))

	var out htmlText
	switch n.Kind {
	case swap.NoticeCreated:
		var first htmlText
		if s.NextExecutionAt != nil {
			first = "First run: " + code(s.NextExecutionAt.UTC().Format("2006-01-02 15:04 MST"))
		}
		out = joinLines(bold("Scheduled swap created")+": "+name, plan, first)
	case swap.NoticeSucceeded:
		var got, prog htmlText
		if r := n.Record; r != nil {
			got = "Received " + bold(r.ConvertedAmount.String()+" "+string(s.TargetCurrency)) + " at " + code(r.RateApplied.String())
		}
		if s.Duration.Bounded() {
			prog = italic(fmt.Sprintf("Progress: %d/%d", s.CompletedExecutions, s.PlannedExecutions))
		}
		out = joinLines(bold("Swap executed")+": "+name, plan, got, prog)
	case swap.NoticeCompleted:
		out = joinLines(bold("Scheduled swap completed")+": "+name, esc(fmt.Sprintf("%d executions", s.CompletedExecutions)))
	case swap.NoticeFailed:
		out = joinLines(bold("Scheduled swap failed")+": "+name, plan, "Reason: "+code(s.LastFailureReason))
	default:
		out = bold(string(n.Kind)) + ": " + name
	}
	return string(out)
}
