package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/drive-in/drive-in-go/internal/sink"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Default endpoints and timeouts.
const (
	DefaultBaseURL        = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL      = "https://www.googleapis.com/upload/drive/v3"
	DefaultUserAgent      = "drive-in/0.1"
	DefaultControlTimeout = 5 * time.Second
	DefaultChunkTimeout   = 60 * time.Second
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs".
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource that always returns the same access token.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrNotLoggedIn
	}

	return string(t), nil
}

// Transport is the narrow capability the transfer engines need. *Client
// satisfies it; tests substitute a scripted fake.
type Transport interface {
	Get(ctx context.Context, url string, header http.Header) (*Result, error)
	Put(ctx context.Context, url string, header http.Header, body []byte) (*Result, error)
	Post(ctx context.Context, url string, header http.Header, payload any) (*Result, error)
}

// Config holds the endpoint and timeout settings of a Client. Zero fields
// take the package defaults.
type Config struct {
	BaseURL        string
	UploadURL      string
	UserAgent      string
	ControlTimeout time.Duration // metadata and control calls
	ChunkTimeout   time.Duration // ranged GETs and chunk PUTs

	// FS is where path targets and path sources live. Defaults to the
	// local filesystem.
	FS billy.Filesystem
}

// Client is an authenticated HTTP client for the Drive v3 API. It handles
// request construction, authentication, retry of idempotent requests, and
// response unwrapping into Result envelopes. It is safe for concurrent use
// by independent transfers.
type Client struct {
	cfg        Config
	httpClient *http.Client
	noRedirect *http.Client
	token      TokenSource
	logger     *slog.Logger

	// transport is what the engines talk to. Defaults to the client itself.
	transport Transport

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Drive API client.
func NewClient(cfg Config, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	cfg = withDefaults(cfg)

	// Drive answers intermediate upload chunks with 308 Resume Incomplete,
	// which must reach the engine instead of being followed.
	noRedirect := *httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		noRedirect: &noRedirect,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
	c.transport = c

	return c
}

func withDefaults(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = DefaultControlTimeout
	}

	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}

	if cfg.FS == nil {
		cfg.FS = sink.LocalFS()
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.UploadURL = strings.TrimRight(cfg.UploadURL, "/")

	return cfg
}

// Endpoint resolves a resource name ("files", "files/<id>") against the API
// base URL and merges query into it. A resource that is already an absolute
// http(s) URL is used as-is.
func (c *Client) Endpoint(resource string, query map[string]string) string {
	return buildURL(c.cfg.BaseURL, resource, query)
}

func (c *Client) uploadEndpoint(resource string, query map[string]string) string {
	return buildURL(c.cfg.UploadURL, resource, query)
}

func buildURL(base, resource string, query map[string]string) string {
	raw := resource
	if !strings.HasPrefix(resource, "http://") && !strings.HasPrefix(resource, "https://") {
		raw = base + "/" + strings.TrimLeft(resource, "/")
	}

	if len(query) == 0 {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}

	u.RawQuery = q.Encode()

	return u.String()
}

// Get issues an authenticated GET. Requests carrying a Range header use the
// chunk timeout; everything else uses the control timeout.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Result, error) {
	timeout := c.cfg.ControlTimeout
	if header.Get("Range") != "" {
		timeout = c.cfg.ChunkTimeout
	}

	return c.do(ctx, request{method: http.MethodGet, url: rawURL, header: header, timeout: timeout, retry: true})
}

// Put issues an authenticated PUT with a raw byte body. Redirects are not
// followed. A non-empty body uses the chunk timeout.
func (c *Client) Put(ctx context.Context, rawURL string, header http.Header, body []byte) (*Result, error) {
	timeout := c.cfg.ControlTimeout
	if len(body) > 0 {
		timeout = c.cfg.ChunkTimeout
	}

	return c.do(ctx, request{
		method: http.MethodPut, url: rawURL, header: header, body: body,
		timeout: timeout, noRedirect: true,
	})
}

// Post issues an authenticated POST with payload encoded as JSON (nil sends
// no body).
func (c *Client) Post(ctx context.Context, rawURL string, header http.Header, payload any) (*Result, error) {
	return c.withJSON(ctx, http.MethodPost, rawURL, header, payload)
}

// Patch issues an authenticated PATCH with payload encoded as JSON.
func (c *Client) Patch(ctx context.Context, rawURL string, header http.Header, payload any) (*Result, error) {
	return c.withJSON(ctx, http.MethodPatch, rawURL, header, payload)
}

// Delete issues an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, rawURL string, header http.Header) (*Result, error) {
	return c.do(ctx, request{
		method: http.MethodDelete, url: rawURL, header: header,
		timeout: c.cfg.ControlTimeout, retry: true,
	})
}

// Request is the generic wrapper: it resolves resource via Endpoint, adds
// query, and dispatches on method. Non-2xx answers come back as a Result
// with Success false, not as an error.
func (c *Client) Request(
	ctx context.Context, method, resource string, query map[string]string, payload any,
) (*Result, error) {
	u := c.Endpoint(resource, query)

	switch method {
	case http.MethodGet:
		return c.Get(ctx, u, nil)
	case http.MethodPost:
		return c.Post(ctx, u, nil, payload)
	case http.MethodPatch:
		return c.Patch(ctx, u, nil, payload)
	case http.MethodDelete:
		return c.Delete(ctx, u, nil)
	default:
		return nil, fmt.Errorf("drive: unsupported method %q", method)
	}
}

// Ping checks that the token works and the API answers normally.
func (c *Client) Ping(ctx context.Context) bool {
	res, err := c.Get(ctx, c.Endpoint("about", map[string]string{"fields": "kind"}), nil)
	if err != nil {
		c.logger.Warn("ping failed", slog.String("error", err.Error()))
		return false
	}

	return res.Success && res.String("kind") == "drive#about"
}

func (c *Client) withJSON(
	ctx context.Context, method, rawURL string, header http.Header, payload any,
) (*Result, error) {
	var body []byte

	if payload != nil {
		var err error

		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("drive: encoding %s body: %w", method, err)
		}

		header = header.Clone()
		if header == nil {
			header = http.Header{}
		}

		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json; charset=UTF-8")
		}
	}

	return c.do(ctx, request{method: method, url: rawURL, header: header, body: body, timeout: c.cfg.ControlTimeout})
}

// request describes one logical call, which may span several attempts.
type request struct {
	method     string
	url        string
	header     http.Header
	body       []byte
	timeout    time.Duration
	retry      bool // idempotent: retry network errors and retryable statuses
	noRedirect bool
}

// do executes r with retry for idempotent requests. Non-2xx responses are
// logged at WARN and returned as unsuccessful Results.
func (c *Client) do(ctx context.Context, r request) (*Result, error) {
	logTarget := redactURL(r.url)

	var attempt int
	for {
		resp, err := c.doOnce(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("drive: request canceled: %w", ctx.Err())
			}

			if errors.Is(err, errNoToken) {
				return nil, err
			}

			if r.retry && attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", r.method),
					slog.String("url", logTarget),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("drive: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("drive: %s %s: %w", r.method, logTarget, err)
		}

		if r.retry && isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", r.method),
				slog.String("url", logTarget),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("drive: request canceled: %w", err)
			}

			attempt++

			continue
		}

		res := newResult(r.url, resp)
		if !res.Success {
			c.logger.Warn("request failed",
				slog.String("method", r.method),
				slog.String("url", logTarget),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		} else {
			c.logger.Debug("request succeeded",
				slog.String("method", r.method),
				slog.String("url", logTarget),
				slog.Int("status", resp.StatusCode),
			)
		}

		return res, nil
	}
}

// errNoToken marks token acquisition failures, which retrying cannot fix.
var errNoToken = errors.New("drive: obtaining token")

// doOnce executes a single attempt and reads the whole body under the
// attempt's timeout.
func (c *Client) doOnce(ctx context.Context, r request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if cl := r.header.Get("Content-Length"); cl != "" {
		if n, convErr := strconv.ParseInt(cl, 10, 64); convErr == nil {
			req.ContentLength = n
		}

		req.Header.Del("Content-Length")
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNoToken, err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	hc := c.httpClient
	if r.noRedirect {
		hc = c.noRedirect
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// redactURL strips the query from u for logging. Upload session locations
// carry their session handle in the query string.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparsable url)"
	}

	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
