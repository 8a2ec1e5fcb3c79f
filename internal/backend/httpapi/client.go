// Package httpapi implements backend.Backend against the deep-vision web server.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// StatusError is returned for non-2xx responses. Body holds the decoded
// "error" or "message" field when the server sent one.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client is the shared transport of the report and presentation adapters.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds requests whose context carries no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for request events. Clients log nothing by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(4), 4),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// resolve turns a server-relative reference into an absolute URL. Absolute
// references are returned unchanged.
func (c *Client) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	return c.baseURL.ResolveReference(r).String()
}

// do sends one request and decodes a JSON body into out. Non-2xx responses
// whose status is listed in accept are decoded too and returned without error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, accept ...int) (int, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	target := c.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode json: %w", err)
		}
		rdr = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	c.logger.Debug("backend.http.request", "req_id", reqID, "method", method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend.http.send_error", "req_id", reqID, "path", path, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("backend.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	c.logger.Debug("backend.http.response", "req_id", reqID, "path", path,
		"status", resp.StatusCode, "bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())

	ok := resp.StatusCode/100 == 2
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return resp.StatusCode, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: errorText(raw)}
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func errorText(raw []byte) string {
	var e struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) != nil {
		return strings.TrimSpace(string(raw))
	}
	switch {
	case e.Error != "" && e.Detail != "":
		return e.Error + ": " + e.Detail
	case e.Error != "":
		return e.Error
	default:
		return e.Message
	}
}

// escape encodes a single path segment. Report file names may contain spaces
// and non-ASCII topics.
func escape(segment string) string {
	return url.PathEscape(segment)
}

// ServerStatus is the answer of GET /api/status.
type ServerStatus struct {
	Status      string `json:"status"`
	AIAvailable bool   `json:"ai_available"`
	Model       string `json:"model"`
	SessionsDir string `json:"sessions_dir"`
	ReportsDir  string `json:"reports_dir"`
}

// Status queries the server health endpoint.
func (c *Client) Status(ctx context.Context) (ServerStatus, error) {
	var st ServerStatus
	if _, err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &st); err != nil {
		return ServerStatus{}, err
	}
	return st, nil
}

// flexTime decodes RFC 3339 strings and Unix milliseconds. Anything else
// decodes to the zero time.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, str); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return nil
	}
	var ms float64
	if json.Unmarshal(b, &ms) != nil {
		return nil
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}
