package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quizsync/internal/config"
	"quizsync/internal/services"
)

const (
	component = "canvas"

	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryAttempts  = 5
	defaultPageSize       = 100
)

// Target identifies one Canvas instance, course, and optional module. It is
// an explicit value handed to New; the client keeps no process-wide
// credential state.
type Target struct {
	Domain         string
	Token          string
	CourseID       string
	ModuleID       string
	Publish        bool
	TimeoutSeconds int
	PageSize       int
}

// Client talks to the Canvas REST and New Quizzes APIs for a single target.
// All operations take a context and retry transient failures with capped
// exponential backoff.
type Client struct {
	target     Target
	baseURL    string
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
	jitter           func(time.Duration) time.Duration
	pageSize         int
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryMaxAttempts = attempts
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithJitter overrides how computed backoff delays are perturbed. Tests pass
// the identity function for deterministic delays.
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(c *Client) {
		if jitter != nil {
			c.jitter = jitter
		}
	}
}

// New constructs a client for the supplied target.
func New(target Target, opts ...Option) *Client {
	target.Domain = strings.TrimSpace(target.Domain)
	target.Token = strings.TrimSpace(target.Token)
	target.CourseID = strings.TrimSpace(target.CourseID)
	target.ModuleID = strings.TrimSpace(target.ModuleID)

	timeout := defaultHTTPTimeout
	if target.TimeoutSeconds > 0 {
		timeout = time.Duration(target.TimeoutSeconds) * time.Second
	}
	pageSize := defaultPageSize
	if target.PageSize > 0 {
		pageSize = target.PageSize
	}

	client := &Client{
		target:           target,
		baseURL:          baseURL(target.Domain),
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
		jitter:           defaultJitter,
		pageSize:         pageSize,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client
}

// NewFromConfig builds a client from resolved configuration, applying the
// upload section's retry policy.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	target, err := cfg.CanvasTarget()
	if err != nil {
		return nil, err
	}
	base := []Option{}
	if cfg.Upload.MaxAttempts > 0 {
		base = append(base, WithRetryMaxAttempts(cfg.Upload.MaxAttempts))
	}
	if cfg.Upload.RetryBackoffBase > 0 || cfg.Upload.RetryBackoffCap > 0 {
		base = append(base, WithRetryBackoff(
			secondsToDuration(cfg.Upload.RetryBackoffBase),
			secondsToDuration(cfg.Upload.RetryBackoffCap),
		))
	}
	return New(Target{
		Domain:         target.Domain,
		Token:          target.Token,
		CourseID:       target.CourseID,
		ModuleID:       target.ModuleID,
		Publish:        target.Publish,
		TimeoutSeconds: target.TimeoutSeconds,
		PageSize:       target.PageSize,
	}, append(base, opts...)...), nil
}

// Target returns the target the client was built for.
func (c *Client) Target() Target {
	return c.target
}

// AssignmentURL renders the instructor-facing URL of an assignment.
func (c *Client) AssignmentURL(assignmentID string) string {
	return fmt.Sprintf("%s/courses/%s/assignments/%s", c.baseURL, c.target.CourseID, assignmentID)
}

func baseURL(domain string) string {
	if domain == "" {
		return ""
	}
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	return strings.TrimRight(domain, "/")
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("canvas api: http %d: %s", e.StatusCode, e.Body)
}

type apiRequest struct {
	method string
	path   string
	query  url.Values
	body   any
	form   url.Values
}

// do issues one API request with the retry policy applied and decodes the
// response into out when non-nil. The returned count is the number of HTTP
// attempts actually made.
func (c *Client) do(ctx context.Context, op string, req apiRequest, out any) (int, error) {
	attempts := c.retryAttempts()
	for attempt := 1; ; attempt++ {
		err := c.send(ctx, req, out)
		if err == nil {
			return attempt, nil
		}
		delay, retryable := c.retryDelay(ctx, err, attempt)
		if !retryable {
			return attempt, c.classify(op, err)
		}
		if attempt >= attempts {
			return attempt, services.Wrap(services.ErrTransient, component, op,
				fmt.Sprintf("gave up after %d attempts", attempts), err)
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return attempt, services.Wrap(services.ErrTransient, component, op, "retry wait interrupted", sleepErr)
		}
	}
}

func (c *Client) send(ctx context.Context, req apiRequest, out any) error {
	endpoint := c.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.body != nil:
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("canvas api: encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case len(req.form) > 0:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return fmt.Errorf("canvas api: new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.target.Token)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("canvas api: http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("canvas api: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       summarizeBody(data),
			RetryAfter: retryAfter,
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("canvas api: decode response: %w", err)
	}
	return nil
}

// classify maps a terminal request error onto the service error taxonomy.
func (c *Client) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		msg := fmt.Sprintf("http %d", statusErr.StatusCode)
		switch {
		case statusErr.StatusCode == http.StatusNotFound:
			return services.Wrap(services.ErrNotFound, component, op, msg, err)
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return services.Wrap(services.ErrTransient, component, op, msg, err)
		default:
			return services.Wrap(services.ErrPermanent, component, op, msg, err)
		}
	}
	return services.Wrap(services.ErrPermanent, component, op, "request failed", err)
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := defaultRetryBaseDelay
	maxDelay := defaultRetryMaxDelay
	if c != nil {
		if c.retryBaseDelay >= 0 {
			base = c.retryBaseDelay
		}
		if c.retryMaxDelay > 0 {
			maxDelay = c.retryMaxDelay
		}
	}
	if base <= 0 {
		return 0
	}

	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	delay = c.capDelay(delay)
	if c != nil && c.jitter != nil {
		delay = c.capDelay(c.jitter(delay))
	}
	return delay
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := defaultRetryMaxDelay
	if c != nil && c.retryMaxDelay > 0 {
		maxDelay = c.retryMaxDelay
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		return errors.New("canvas retry: nil context")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c != nil && c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// defaultJitter perturbs a delay by up to a quarter in either direction.
func defaultJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	spread := int64(delay / 4)
	if spread <= 0 {
		return delay
	}
	return delay - time.Duration(spread) + time.Duration(rand.Int64N(2*spread+1))
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func summarizeBody(data []byte) string {
	clean := strings.Join(strings.Fields(string(data)), " ")
	const limit = 300
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
