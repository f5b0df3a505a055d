// Package ads keeps a small cache of advertisement lines appended to
// notifications.
package ads

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const maxBody = 1 << 20

type snapshot struct {
	lines   []string
	fetched time.Time
}

// Rotator fetches advertisement lines from an HTTP endpoint and hands out a
// random one per notification. Lines older than the TTL are not used.
type Rotator struct {
	url    string
	ttl    time.Duration
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	state atomic.Pointer[snapshot]
}

// New creates a rotator. An empty url disables fetching.
func New(url string, ttl time.Duration, client *http.Client, logger *slog.Logger) *Rotator {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotator{url: url, ttl: ttl, client: client, logger: logger, now: time.Now}
}

// Fetch downloads the line list and replaces the cache. On failure the
// previous lines stay in place until they expire.
func (r *Rotator) Fetch(ctx context.Context) error {
	if r.url == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("ads: build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("ads: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ads: fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("ads: read body: %w", err)
	}
	lines, err := parse(body)
	if err != nil {
		return err
	}
	r.state.Store(&snapshot{lines: lines, fetched: r.now()})
	r.logger.Debug("ads: fetched", slog.Int("lines", len(lines)))
	return nil
}

// parse accepts either {"result": [...]} or plain text with one line each.
func parse(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var payload struct {
			Result []string `json:"result"`
		}
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, fmt.Errorf("ads: decode: %w", err)
		}
		return clean(payload.Result), nil
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return clean(lines), sc.Err()
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Pick returns a random cached line, or "" when there is none or it expired.
func (r *Rotator) Pick() string {
	lines := r.Lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[rand.IntN(len(lines))]
}

// Lines returns the cached lines that are still fresh.
func (r *Rotator) Lines() []string {
	s := r.state.Load()
	if s == nil || r.now().Sub(s.fetched) > r.ttl {
		return nil
	}
	return s.lines
}
