// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cardinalhq/censusrunner/internal/cache"
	"github.com/cardinalhq/censusrunner/internal/carrier"
	"github.com/cardinalhq/censusrunner/internal/logctx"
	"github.com/cardinalhq/censusrunner/internal/retry"
)

const maxResponseSize = 512 * 1024 * 1024

// Page is one bounded slice of the census, in source order.
type Page struct {
	Offset     int64
	Limit      int
	Records    []carrier.RawRecord
	NextOffset int64
	Attempts   int
}

// Client pages through the census dataset over the SODA API.
type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
	sleep  func(ctx context.Context, d time.Duration) error
	counts *cache.Cache[string, int64]
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCountCache injects the cache used for aggregate count queries.
func WithCountCache(counts *cache.Cache[string, int64]) Option {
	return func(c *Client) { c.counts = counts }
}

// WithSleep replaces the clock used for backoff, rate-limit and politeness waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxPageSize <= 0 || cfg.MaxPageSize > MaxPageSize {
		cfg.MaxPageSize = MaxPageSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = cfg.MaxPageSize
	}
	if cfg.OrderBy == "" {
		cfg.OrderBy = "usdot_number"
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 60 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		policy: cfg.Retry,
		sleep:  retry.SleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.counts == nil {
		c.counts = cache.New[string, int64](cfg.CountCache)
	}
	if c.policy.Sleep == nil {
		c.policy.Sleep = c.sleep
	}
	return c
}

// PageSize clamps a requested page size to the provider maximum.
// Non-positive sizes use the configured default.
func (c *Client) PageSize(requested int) int {
	if requested <= 0 {
		requested = c.cfg.PageSize
	}
	if requested > c.cfg.MaxPageSize {
		return c.cfg.MaxPageSize
	}
	return requested
}

// FetchPage fetches up to pageSize records starting at cursor. The filter is
// a SoQL predicate passed through untouched.
func (c *Client) FetchPage(ctx context.Context, cursor int64, pageSize int, filter string) (Page, error) {
	limit := c.PageSize(pageSize)
	page := Page{Offset: cursor, Limit: limit, NextOffset: cursor}

	q := url.Values{}
	q.Set("$limit", strconv.Itoa(limit))
	q.Set("$offset", strconv.FormatInt(cursor, 10))
	q.Set("$order", c.cfg.OrderBy)
	if filter != "" {
		q.Set("$where", filter)
	}

	body, attempts, err := c.get(ctx, q)
	page.Attempts = attempts
	if err != nil {
		if ctx.Err() != nil {
			return page, fmt.Errorf("fetch page at offset %d: %w", cursor, ctx.Err())
		}
		return page, &FetchError{Offset: cursor, Attempts: attempts, Err: err}
	}

	records, err := carrier.ParseRawRecords(body)
	if err != nil {
		return page, &FetchError{Offset: cursor, Attempts: attempts, Err: err}
	}

	page.Records = records
	page.NextOffset = cursor + int64(len(records))
	recordsCounter.Add(ctx, int64(len(records)))

	logctx.FromContext(ctx).Debug("Fetched census page",
		slog.Int64("offset", cursor),
		slog.Int("limit", limit),
		slog.Int("records", len(records)),
		slog.Int("attempts", attempts))
	return page, nil
}

// Pages returns the lazy, forward-only sequence of pages starting at start.
// The sequence ends on an empty page or after a short page. A failed page is
// yielded with its error; if the consumer keeps going, the sequence moves
// past it by one page. After MaxConsecutiveFailedPages failures in a row it
// yields ErrSourceUnavailable and ends. Cancellation is yielded as an error
// and ends the sequence.
func (c *Client) Pages(ctx context.Context, start int64, pageSize int, filter string) iter.Seq2[Page, error] {
	limit := c.PageSize(pageSize)
	maxFailed := c.cfg.MaxConsecutiveFailedPages
	if maxFailed < 1 {
		maxFailed = DefaultMaxConsecutiveFailedPages
	}
	return func(yield func(Page, error) bool) {
		offset := start
		failed := 0
		for {
			page, err := c.FetchPage(ctx, offset, limit, filter)
			if err != nil {
				if !yield(page, err) || ctx.Err() != nil {
					return
				}
				failed++
				if failed >= maxFailed {
					yield(Page{Offset: offset, Limit: limit, NextOffset: offset},
						fmt.Errorf("%w: %d consecutive pages failed, last at offset %d", ErrSourceUnavailable, failed, offset))
					return
				}
				offset += int64(limit)
				continue
			}
			failed = 0

			if len(page.Records) == 0 {
				return
			}
			if !yield(page, nil) {
				return
			}
			if len(page.Records) < limit {
				return
			}
			offset = page.NextOffset

			if err := c.sleep(ctx, c.cfg.PolitenessDelay); err != nil {
				yield(Page{Offset: offset, Limit: limit, NextOffset: offset}, err)
				return
			}
		}
	}
}

// Count returns the number of records matching filter, caching the answer.
func (c *Client) Count(ctx context.Context, filter string) (int64, error) {
	if n, ok := c.counts.Get(filter); ok {
		return n, nil
	}

	q := url.Values{}
	q.Set("$select", "count(*) as count")
	if filter != "" {
		q.Set("$where", filter)
	}

	body, _, err := c.get(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}

	rows, err := carrier.ParseRawRecords(body)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	raw, ok := rows[0].String("count")
	if !ok {
		return 0, errors.New("count records: response has no count column")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}

	c.counts.Set(filter, n)
	return n, nil
}

// FetchCarrier looks up one carrier by USDOT number.
func (c *Client) FetchCarrier(ctx context.Context, usdot int64) (carrier.RawRecord, bool, error) {
	page, err := c.FetchPage(ctx, 0, 1, USDOTFilter(usdot))
	if err != nil {
		return nil, false, err
	}
	if len(page.Records) == 0 {
		return nil, false, nil
	}
	return page.Records[0], true, nil
}

// get performs one logical request with retries. Rate-limit waits do not
// count as attempts. The returned attempt count covers non-rate-limited tries.
func (c *Client) get(ctx context.Context, q url.Values) ([]byte, int, error) {
	ll := logctx.FromContext(ctx)
	failures := 0
	rateWaits := 0

	for {
		body, err := c.do(ctx, q)
		if err == nil {
			return body, failures + 1, nil
		}
		if ctx.Err() != nil {
			return nil, failures + 1, ctx.Err()
		}

		var rl *rateLimitedError
		if errors.As(err, &rl) {
			rateWaits++
			if c.cfg.MaxRateLimitWaits > 0 && rateWaits > c.cfg.MaxRateLimitWaits {
				return nil, failures, fmt.Errorf("gave up after %d rate-limit waits: %w", rateWaits-1, err)
			}
			rateLimitCounter.Add(ctx, 1)
			ll.Warn("Rate limited by census source, waiting",
				slog.Duration("retryAfter", rl.wait),
				slog.Int("rateLimitWaits", rateWaits))
			if err := c.sleep(ctx, rl.wait); err != nil {
				return nil, failures, err
			}
			continue
		}

		failures++
		if !isRetryable(err) || failures >= c.policy.Attempts() {
			return nil, failures, err
		}

		delay := c.policy.Delay(failures)
		retryCounter.Add(ctx, 1)
		ll.Info("Census request failed, retrying",
			slog.Int("attempt", failures),
			slog.Int("maxAttempts", c.policy.Attempts()),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if err := c.policy.Wait(ctx, delay); err != nil {
			return nil, failures, err
		}
	}
}

func (c *Client) do(ctx context.Context, q url.Values) ([]byte, error) {
	endpoint := c.cfg.BaseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AppToken != "" {
		req.Header.Set("X-App-Token", c.cfg.AppToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		recordRequest(ctx, "transport_error", time.Since(start))
		return nil, &transportError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	recordRequest(ctx, strconv.Itoa(resp.StatusCode), time.Since(start))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &rateLimitedError{wait: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now(), c.cfg.DefaultRetryAfter)}
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("read response body: %w", err)}
	}
	if n > maxResponseSize {
		return nil, fmt.Errorf("response exceeds max size (%d bytes)", maxResponseSize)
	}
	if !json.Valid(buf.Bytes()) {
		return nil, &transportError{err: errors.New("truncated or invalid JSON response")}
	}
	return buf.Bytes(), nil
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(value string, now time.Time, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
