package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"statuswatch/internal/status"
	"statuswatch/pkg/logx"
)

// ErrNotModified reports that the feed has not changed since the last fetch.
// It is a success case, not a failure: callers skip the cycle quietly.
var ErrNotModified = errors.New("feed: not modified")

// ErrUpstream covers transient upstream failures (5xx). The next scheduled
// poll is the retry.
var ErrUpstream = errors.New("feed: upstream error")

// ErrUnexpectedStatus covers response codes outside 200/304/5xx.
var ErrUnexpectedStatus = errors.New("feed: unexpected status")

const (
	fetchTimeout = 20 * time.Second
	// replayWindow absorbs near-simultaneous duplicate fetches, e.g. a manual
	// check racing the scheduled poll.
	replayWindow = 90 * time.Second

	userAgent = "statuswatch/1.0 (+https://github.com/statuswatch/statuswatch)"
)

type cacheKey struct {
	service string
	kind    status.Kind
}

type cacheEntry struct {
	etag    string
	payload []byte // body of the last 200

	// Last conditional outcome, replayed within replayWindow.
	lastAt          time.Time
	lastNotModified bool
}

// Client fetches status feeds with conditional requests. ETags live only in
// memory; the first fetch after a restart is unconditional, which is fine
// because the seen-set does the real dedup.
type Client struct {
	http *http.Client
	log  logx.Logger

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

func NewClient(log logx.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: fetchTimeout},
		log:     log.With(logx.String("comp", "feed.client")),
		entries: map[cacheKey]*cacheEntry{},
	}
}

// Fetch performs a conditional GET of one feed. It returns ErrNotModified
// on 304, ErrUpstream on 5xx and ErrUnexpectedStatus otherwise. Successful
// outcomes within the replay window are served from memory.
func (c *Client) Fetch(ctx context.Context, svc status.Service, kind status.Kind) ([]byte, error) {
	key := cacheKey{service: svc.ID, kind: kind}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	if !e.lastAt.IsZero() && time.Since(e.lastAt) < replayWindow {
		defer c.mu.Unlock()
		if e.lastNotModified {
			return nil, ErrNotModified
		}
		return e.payload, nil
	}
	etag := e.etag
	c.mu.Unlock()

	payload, newETag, code, err := c.get(ctx, svc.BaseURL+kind.Endpoint(), etag)
	if err != nil {
		if isTimeout(err) {
			c.log.Debug("feed fetch timed out",
				logx.String("service", svc.ID), logx.String("kind", string(kind)), logx.Err(err))
			return nil, fmt.Errorf("%w: %s %s: %v", ErrUpstream, svc.ID, kind, err)
		}
		return nil, err
	}

	switch {
	case code == http.StatusNotModified:
		c.mu.Lock()
		e.lastAt = time.Now()
		e.lastNotModified = true
		c.mu.Unlock()
		return nil, ErrNotModified
	case code == http.StatusOK:
		c.mu.Lock()
		e.etag = newETag
		e.payload = payload
		e.lastAt = time.Now()
		e.lastNotModified = false
		c.mu.Unlock()
		return payload, nil
	case code >= 500:
		c.log.Debug("upstream unavailable",
			logx.String("service", svc.ID), logx.String("kind", string(kind)), logx.Int("status", code))
		return nil, fmt.Errorf("%w: %s %s: http %d", ErrUpstream, svc.ID, kind, code)
	default:
		c.log.Warn("unexpected feed response",
			logx.String("service", svc.ID), logx.String("kind", string(kind)), logx.Int("status", code))
		return nil, fmt.Errorf("%w: %s %s: http %d", ErrUnexpectedStatus, svc.ID, kind, code)
	}
}

// Cached returns the most recent 200 payload for the feed, regardless of
// age. Manual checks fall back to this when the conditional fetch says
// "no change".
func (c *Client) Cached(svc status.Service, kind status.Kind) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey{service: svc.ID, kind: kind}]
	if !ok || e.payload == nil {
		return nil, false
	}
	return e.payload, true
}

// isTimeout reports whether the fetch died on a deadline rather than a
// protocol or transport fault. Timeouts rank with 5xx as routine upstream
// flakiness: the next scheduled poll is the retry. Plain cancellation
// (shutdown) is not a timeout.
func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) get(ctx context.Context, url, etag string) (body []byte, newETag string, code int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused; bodies here are small.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil, "", resp.StatusCode, nil
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, "", 0, err
	}
	return b, resp.Header.Get("ETag"), resp.StatusCode, nil
}
