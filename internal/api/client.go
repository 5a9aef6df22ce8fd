package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"recurswap/internal/analytics"
	"recurswap/internal/swap"
	"recurswap/internal/task/engine"
)

// Client talks to a running daemon.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient targets addr ("127.0.0.1:8380" or a full http URL).
func NewClient(addr, token string, timeout time.Duration) *Client {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{base: addr, token: strings.TrimSpace(token), http: &http.Client{Timeout: timeout}}
}

// Error is a non-2xx response. It matches the swap sentinels with errors.Is
// through the marks applied by decodeError.
type Error struct {
	Status int
	Body   ErrorBody
}

func (e *Error) Error() string {
	msg := e.Body.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("api: %d %s", e.Status, msg)
}

func (c *Client) ListSchedules(ctx context.Context) ([]ScheduleView, error) {
	var out []ScheduleView
	return out, c.do(ctx, http.MethodGet, "/v1/schedules", nil, &out)
}

func (c *Client) GetSchedule(ctx context.Context, id string) (ScheduleView, error) {
	var out ScheduleView
	return out, c.do(ctx, http.MethodGet, schedulePath(id, ""), nil, &out)
}

func (c *Client) CreateSchedule(ctx context.Context, def swap.Definition) (ScheduleView, error) {
	var out ScheduleView
	return out, c.do(ctx, http.MethodPost, "/v1/schedules", def, &out)
}

func (c *Client) Pause(ctx context.Context, id string) (ScheduleView, error) {
	var out ScheduleView
	return out, c.do(ctx, http.MethodPost, schedulePath(id, "pause"), nil, &out)
}

func (c *Client) Resume(ctx context.Context, id string) (ScheduleView, error) {
	var out ScheduleView
	return out, c.do(ctx, http.MethodPost, schedulePath(id, "resume"), nil, &out)
}

func (c *Client) Duplicate(ctx context.Context, id string) (ScheduleView, error) {
	var out ScheduleView
	return out, c.do(ctx, http.MethodPost, schedulePath(id, "duplicate"), nil, &out)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, schedulePath(id, ""), nil, nil)
}

func (c *Client) History(ctx context.Context, id string) ([]swap.ExecutionRecord, error) {
	var out []swap.ExecutionRecord
	return out, c.do(ctx, http.MethodGet, schedulePath(id, "history"), nil, &out)
}

// Analytics returns the snapshot for id, or across all records when id is
// empty or "all".
func (c *Client) Analytics(ctx context.Context, id string) (analytics.Snapshot, error) {
	var out analytics.Snapshot
	path := "/v1/analytics"
	if id != "" && id != analytics.ScopeAll {
		path = schedulePath(id, "analytics")
	}
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *Client) Engine(ctx context.Context) (engine.Snapshot, error) {
	var out engine.Snapshot
	return out, c.do(ctx, http.MethodGet, "/v1/engine", nil, &out)
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	return out, c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

func schedulePath(id, action string) string {
	p := "/v1/schedules/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if json.Unmarshal(b, &e.Body) != nil {
		e.Body.Message = strings.TrimSpace(string(b))
	}

	var err error = e
	if e.Body.Hint != "" {
		err = errors.WithHint(err, e.Body.Hint)
	}
	switch e.Body.Code {
	case codeInvalidDefinition:
		return errors.Mark(err, swap.ErrInvalidDefinition)
	case codeNotFound:
		return errors.Mark(err, swap.ErrNotFound)
	case codeInvalidTransition:
		return errors.Mark(err, swap.ErrInvalidTransition)
	case codePersistence:
		return errors.Mark(err, swap.ErrPersistence)
	}
	return err
}
