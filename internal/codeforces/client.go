// Package codeforces is a small client for the public Codeforces API plus an
// adapter that feeds contest watches.
package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

const (
	DefaultBaseURL  = "https://codeforces.com/api"
	maxResponseSize = 32 << 20
)

type Config struct {
	BaseURL string
	// MinInterval is the minimum gap between two API calls (0 disables the limit).
	MinInterval   time.Duration
	Timeout       time.Duration
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	return c
}

// Client calls the Codeforces API. All calls share one rate limiter.
// It is safe for concurrent use.
type Client struct {
	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter

	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	c := &Client{
		http: &http.Client{},
		log:  log.With(logx.String("comp", "codeforces")),
	}
	c.Apply(cfg)
	return c
}

// Apply swaps the client config. In-flight calls finish with the old one.
func (c *Client) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	c.mu.Lock()
	c.cfg = cfg
	c.limiter = lim
	c.mu.Unlock()
}

func (c *Client) snapshot() (Config, *rate.Limiter) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.limiter
}

// call performs one API method with retries and decodes result into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	cfg, lim := c.snapshot()
	u := cfg.BaseURL + "/" + method
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		raw, err := c.do(ctx, cfg, method, u)
		if err == nil {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("codeforces %s: decode result: %w", method, err)
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) || attempt > cfg.RetryMax {
			break
		}
		delay := retryDelay(cfg, attempt)
		c.log.Debug("codeforces call failed; retrying",
			logx.String("method", method), logx.Int("attempt", attempt), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, cfg Config, method, u string) (json.RawMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("codeforces %s: request failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("codeforces %s: read body: %w", method, err)
	}
	c.log.Trace("codeforces call",
		logx.String("method", method), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	var env envelope
	if jerr := json.Unmarshal(body, &env); jerr != nil || env.Status == "" {
		if resp.StatusCode/100 != 2 {
			return nil, &HTTPError{Method: method, Status: resp.StatusCode}
		}
		if jerr == nil {
			jerr = errors.New("missing status")
		}
		return nil, fmt.Errorf("codeforces %s: decode envelope: %w", method, jerr)
	}
	if env.Status != "OK" {
		return nil, &APIError{Method: method, Comment: env.Comment}
	}
	return env.Result, nil
}

// retryDelay is the jittered exponential backoff before attempt+1.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}

// ContestList returns all contests (gym contests when gym is true).
func (c *Client) ContestList(ctx context.Context, gym bool) ([]Contest, error) {
	var out []Contest
	err := c.call(ctx, "contest.list", url.Values{"gym": {strconv.FormatBool(gym)}}, &out)
	return out, err
}

// StandingsQuery selects part of a contest's standings.
type StandingsQuery struct {
	ContestID      int64
	From           int // 1-based; 0 means from the top
	Count          int // 0 means all rows
	Handles        []string
	ShowUnofficial bool
}

func (c *Client) ContestStandings(ctx context.Context, q StandingsQuery) (*Standings, error) {
	params := url.Values{
		"contestId":      {strconv.FormatInt(q.ContestID, 10)},
		"showUnofficial": {strconv.FormatBool(q.ShowUnofficial)},
	}
	if q.From > 0 {
		params.Set("from", strconv.Itoa(q.From))
	}
	if q.Count > 0 {
		params.Set("count", strconv.Itoa(q.Count))
	}
	if len(q.Handles) > 0 {
		params.Set("handles", strings.Join(q.Handles, ";"))
	}
	var out Standings
	if err := c.call(ctx, "contest.standings", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserInfo looks up handles. The API fails the whole call if any handle is unknown.
func (c *Client) UserInfo(ctx context.Context, handles []string) ([]User, error) {
	var out []User
	err := c.call(ctx, "user.info", url.Values{"handles": {strings.Join(handles, ";")}}, &out)
	return out, err
}
