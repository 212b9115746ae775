// Package ohsome queries the ohsome OSM history API for contribution counts.
package ohsome

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://api.ohsome.org/v1"
	countPath      = "/contributions/count"
	defaultPeriod  = "P1D"
	maxErrorBody   = 4096
)

// Fetcher returns the count series of one metric for one cell and interval.
type Fetcher interface {
	Fetch(ctx context.Context, cell model.GridCell, iv model.TimeInterval, kind model.MetricKind) ([]model.CountRecord, error)
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API root (default https://api.ohsome.org/v1).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout. Timeouts are transient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithFilter sets the ohsome filter expression, e.g. "highway=* or building=*".
func WithFilter(f string) Option {
	return func(c *Client) {
		c.filter = f
	}
}

// WithPeriod sets the ISO-8601 aggregation period appended to the time parameter.
func WithPeriod(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.period = p
		}
	}
}

// WithCircuitBreaker rejects requests while the endpoint keeps failing.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// Client issues exactly one request per Fetch call.
type Client struct {
	httpClient *http.Client
	baseURL    string
	filter     string
	period     string
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
}

// NewClient creates a Client with a 30 second timeout and a 2 req/s limit.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		period:     defaultPeriod,
		limiter:    rate.NewLimiter(2, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type countResponse struct {
	Result []countRow `json:"result"`
}

type countRow struct {
	Timestamp     string   `json:"timestamp"`
	FromTimestamp string   `json:"fromTimestamp"`
	Value         *float64 `json:"value"`
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Fetch posts one contributions/count query and converts the rows to CountRecords.
func (c *Client) Fetch(ctx context.Context, cell model.GridCell, iv model.TimeInterval, kind model.MetricKind) ([]model.CountRecord, error) {
	if c.breaker == nil {
		return c.fetch(ctx, cell, iv, kind)
	}
	recs, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]model.CountRecord, error) {
		return c.fetch(ctx, cell, iv, kind)
	})
	if eris.Is(err, resilience.ErrCircuitOpen) {
		return nil, &FatalFetchError{CellID: cell.ID, Interval: iv, Kind: kind, Message: "endpoint circuit open", Err: resilience.ErrCircuitOpen}
	}
	return recs, err
}

func (c *Client) fetch(ctx context.Context, cell model.GridCell, iv model.TimeInterval, kind model.MetricKind) ([]model.CountRecord, error) {
	fatal := func(status int, msg string, err error) error {
		return &FatalFetchError{CellID: cell.ID, Interval: iv, Kind: kind, StatusCode: status, Message: msg, Err: err}
	}
	transient := func(status int, err error) error {
		return &TransientFetchError{CellID: cell.ID, Interval: iv, Kind: kind, StatusCode: status, Err: err}
	}

	if !kind.Valid() {
		return nil, fatal(0, "unknown metric kind", eris.Errorf("ohsome: metric kind %q", kind))
	}
	bpolys, err := EncodeBPolys(cell)
	if err != nil {
		return nil, fatal(0, "", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ohsome: rate limit")
	}

	form := url.Values{
		"bpolys":           {bpolys},
		"time":             {iv.String() + "/" + c.period},
		"contributionType": {kind.ContributionType()},
	}
	if c.filter != "" {
		form.Set("filter", c.filter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+countPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fatal(0, "", eris.Wrap(err, "ohsome: build request"))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	log := zap.L().With(zap.Int64("cell", cell.ID), zap.String("kind", string(kind)), zap.String("interval", iv.String()))
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ohsome: request cancelled")
		}
		return nil, transient(0, eris.Wrap(err, "ohsome: request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := apiMessage(body)
		log.Debug("ohsome: non-200 response", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, transient(resp.StatusCode, eris.Errorf("ohsome: status %d: %s", resp.StatusCode, msg))
		}
		return nil, fatal(resp.StatusCode, msg, eris.Errorf("ohsome: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient(resp.StatusCode, eris.Wrap(err, "ohsome: read body"))
	}

	recs, err := parseCounts(body, cell.ID, kind)
	if err != nil {
		return nil, fatal(resp.StatusCode, "", err)
	}

	log.Debug("ohsome: fetched counts", zap.Int("rows", len(recs)), zap.Duration("elapsed", time.Since(start)))
	return recs, nil
}

func parseCounts(body []byte, cellID int64, kind model.MetricKind) ([]model.CountRecord, error) {
	var cr countResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, eris.Wrap(err, "ohsome: parse response")
	}
	if cr.Result == nil {
		return nil, eris.New("ohsome: response has no result array")
	}

	out := make([]model.CountRecord, 0, len(cr.Result))
	for i, row := range cr.Result {
		raw := row.Timestamp
		if raw == "" {
			raw = row.FromTimestamp
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, eris.Wrapf(err, "ohsome: row %d timestamp %q", i, raw)
		}
		if row.Value == nil {
			return nil, eris.Errorf("ohsome: row %d has no value", i)
		}
		v := *row.Value
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, eris.Errorf("ohsome: row %d has invalid count %v", i, v)
		}
		out = append(out, model.CountRecord{
			CellID:    cellID,
			Timestamp: ts.UTC(),
			Kind:      kind,
			Count:     int64(math.Round(v)),
		})
	}
	return out, nil
}

func apiMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return er.Message
	}
	return strings.TrimSpace(string(body))
}
