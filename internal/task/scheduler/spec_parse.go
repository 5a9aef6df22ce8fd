package scheduler

import (
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// TickSpec is a normalized trigger cadence, either a cron expression or a
// fixed interval.
type TickSpec struct {
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

// CronSpec returns the expression registered with cron.
func (t TickSpec) CronSpec() string {
	if t.Cron != "" {
		return t.Cron
	}
	if t.Every <= 0 {
		return ""
	}
	return "@every " + t.Every.String()
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseTick accepts:
//   - a Go duration: "1m", "30s"
//   - HH:MM as an interval: "00:05" (five minutes)
//   - a cron expression or descriptor: "*/30 * * * * *", "@every 1m", "@hourly"
//
// The "cron:" prefix forces cron parsing. Empty means one minute.
func ParseTick(raw string) (TickSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return TickSpec{Every: time.Minute, Source: "duration"}, nil
	}
	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return TickSpec{}, errors.New("cron expression required after 'cron:'")
		}
		return TickSpec{Cron: expr, Source: "cron"}, nil
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return TickSpec{Cron: s, Source: "cron"}, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		var hh, mm int
		for _, c := range m[1] {
			hh = hh*10 + int(c-'0')
		}
		mm = int(m[2][0]-'0')*10 + int(m[2][1]-'0')
		if mm > 59 {
			return TickSpec{}, errors.Newf("invalid minutes in %q", s)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return TickSpec{}, errors.New("tick must be > 0")
		}
		return TickSpec{Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return TickSpec{}, errors.WithHint(
			errors.Newf("invalid tick %q", raw),
			"use a duration like '1m', HH:MM like '00:05', or cron like '*/30 * * * * *'",
		)
	}
	if d < time.Second {
		return TickSpec{}, errors.Newf("tick must be >= 1s, got %s", d)
	}
	return TickSpec{Every: d, Source: "duration"}, nil
}
