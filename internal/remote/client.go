// Package remote talks to the portal's key-value backend. It only reads:
// authoritative events and announcements are authored elsewhere.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	appLog "portalcal/internal/log"
	"portalcal/internal/metrics"
	"portalcal/internal/model"
	"portalcal/internal/reconcile"
)

const (
	defaultEventsPath        = "/events"
	defaultAnnouncementsPath = "/announcements"
	defaultMaxRetries        = 2
	defaultInitialBackoff    = 250 * time.Millisecond
	maxErrorBody             = 512
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	Token             string
	EventsPath        string
	AnnouncementsPath string

	// Timeout bounds a single HTTP attempt. Callers should also put a
	// deadline on ctx to bound the whole fetch including retries.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt for
	// transient failures. Negative disables retries.
	MaxRetries int
	// InitialBackoff is the first retry delay; it doubles per retry.
	InitialBackoff time.Duration
}

// Client fetches authoritative collections from the backend.
type Client struct {
	http              *resty.Client
	eventsPath        string
	announcementsPath string
	maxRetries        int
	initialBackoff    time.Duration
}

// New creates a Client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("remote: base URL is empty")
	}
	if opts.EventsPath == "" {
		opts.EventsPath = defaultEventsPath
	}
	if opts.AnnouncementsPath == "" {
		opts.AnnouncementsPath = defaultAnnouncementsPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout)
	if opts.Token != "" {
		hc.SetAuthToken(opts.Token)
	}

	return &Client{
		http:              hc,
		eventsPath:        opts.EventsPath,
		announcementsPath: opts.AnnouncementsPath,
		maxRetries:        opts.MaxRetries,
		initialBackoff:    opts.InitialBackoff,
	}, nil
}

// FetchEvents returns the backend's events, each tagged authoritative. A
// payload without an events list is an error (ErrMalformed): the caller keeps
// its previous events in that case.
func (c *Client) FetchEvents(ctx context.Context) ([]model.Event, error) {
	body, err := c.get(ctx, "events", c.eventsPath)
	if err != nil {
		return nil, err
	}
	raw, present := extractList(body, "events")
	if !present {
		return nil, fmt.Errorf("events: %w", ErrMalformed)
	}
	var events []model.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("events: %w: %v", ErrMalformed, err)
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			appLog.Warn("remote event without id skipped", "title", ev.Title)
			continue
		}
		if ev.CreatedBy == "" {
			ev.CreatedBy = model.AdminCreator
		}
		ev.Origin = model.OriginAuthoritative
		out = append(out, ev)
	}
	return out, nil
}

// FetchAnnouncements returns the backend's announcements. A 2xx response
// whose payload has no announcements list yields Present == false and a nil
// error; only transport and status failures return an error.
func (c *Client) FetchAnnouncements(ctx context.Context) (reconcile.RemoteAnnouncements, error) {
	body, err := c.get(ctx, "announcements", c.announcementsPath)
	if err != nil {
		return reconcile.RemoteAnnouncements{}, err
	}
	raw, present := extractList(body, "announcements")
	if !present {
		appLog.Warn("announcements payload malformed", "bytes", len(body))
		return reconcile.RemoteAnnouncements{}, nil
	}
	var anns []model.Announcement
	if err := json.Unmarshal(raw, &anns); err != nil {
		appLog.Warn("announcements payload malformed", "err", err.Error())
		return reconcile.RemoteAnnouncements{}, nil
	}

	out := make([]model.Announcement, 0, len(anns))
	for _, a := range anns {
		if a.ID == "" {
			continue
		}
		out = append(out, a)
	}
	return reconcile.RemoteAnnouncements{Items: out, Present: true}, nil
}

// get performs a GET with exponential backoff on transient failures
// (network errors, 429, 5xx). Other statuses fail immediately.
func (c *Client) get(ctx context.Context, kind, path string) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.maxRetries)), ctx)

	op := func() ([]byte, error) {
		resp, err := c.http.R().SetContext(ctx).Get(path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("http request: %w", err)
		}
		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			return resp.Body(), nil
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return nil, backoff.Permanent(ErrUnauthorized)
		case status == http.StatusNotFound:
			return nil, backoff.Permanent(ErrNotFound)
		}
		serr := &StatusError{StatusCode: status, Body: truncate(resp.String(), maxErrorBody)}
		if serr.Temporary() {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}

	notify := func(err error, wait time.Duration) {
		metrics.FetchRetriesTotal.WithLabelValues(kind).Inc()
		appLog.Debug("remote fetch retry", "kind", kind, "err", err.Error(), "wait", wait.String())
	}

	body, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}
	return body, nil
}

// extractList accepts either a bare JSON array or an object carrying the
// array under key. It reports false for anything else, including null.
func extractList(body []byte, key string) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false
	}
	switch trimmed[0] {
	case '[':
		return trimmed, true
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, false
		}
		v, ok := obj[key]
		if !ok {
			return nil, false
		}
		v = bytes.TrimSpace(v)
		if len(v) == 0 || v[0] != '[' {
			return nil, false
		}
		return v, true
	default:
		return nil, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
