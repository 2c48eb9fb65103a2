// Package collaborator implements the HTTP client for the external content
// services the orchestrator drives: curriculum generation, quiz generation,
// feedback analysis and resource lookup.
//
// Payloads are opaque JSON; the orchestrator decides when calls happen and
// what a failure means, the services decide what the content is. The client
// never retries: a failed call is reported to the caller, and retrying is a
// client-visible action of the session.
package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/circuitbreaker"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
)

// Endpoint names, used for breakers, logs and metrics.
const (
	EndpointCurriculum = "curriculum"
	EndpointQuiz       = "quiz"
	EndpointFeedback   = "feedback"
	EndpointResources  = "resources"
)

// Call outcomes reported to the Observer.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
)

const maxResponseBytes = 4 << 20

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the collaborator client.
type Config struct {
	CurriculumURL string
	QuizURL       string
	FeedbackURL   string
	ResourcesURL  string

	// APIKey is sent as a Bearer token when set
	APIKey string

	// Timeout is the HTTP transport timeout per request
	Timeout time.Duration

	RateLimiter RateLimiterConfig

	// Circuit breaker settings, applied per endpoint
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	BreakerHalfOpenMax int

	// Observer receives per-call outcomes (optional)
	Observer Observer

	// OnBreakerStateChange is called when an endpoint breaker moves (optional)
	OnBreakerStateChange func(name string, from, to circuitbreaker.State)

	Logger *logger.Logger

	// Debug enables request logging
	Debug bool
}

// DefaultConfig returns defaults with every endpoint under baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		CurriculumURL:      baseURL + "/curriculum/generate",
		QuizURL:            baseURL + "/quiz/generate",
		FeedbackURL:        baseURL + "/feedback/analyze",
		ResourcesURL:       baseURL + "/resources/search",
		Timeout:            60 * time.Second,
		RateLimiter:        DefaultRateLimiterConfig(),
		BreakerThreshold:   5,
		BreakerCooldown:    30 * time.Second,
		BreakerHalfOpenMax: 1,
	}
}

// Observer records collaborator call outcomes.
type Observer interface {
	ObserveCollaboratorCall(endpoint, outcome string, latency time.Duration)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the collaborator services.
type Client struct {
	config      Config
	httpClient  *http.Client
	logger      *logger.Logger
	rateLimiter *RateLimiter
	breakers    map[string]*circuitbreaker.CircuitBreaker
	urls        map[string]string
}

// NewClient creates a new collaborator client.
func NewClient(config Config) *Client {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	c := &Client{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      config.Logger.With(logger.Component("collaborator")),
		rateLimiter: NewRateLimiter(config.RateLimiter),
		urls: map[string]string{
			EndpointCurriculum: config.CurriculumURL,
			EndpointQuiz:       config.QuizURL,
			EndpointFeedback:   config.FeedbackURL,
			EndpointResources:  config.ResourcesURL,
		},
		breakers: make(map[string]*circuitbreaker.CircuitBreaker, 4),
	}

	onChange := func(name string, from, to circuitbreaker.State) {
		c.logger.Warn("collaborator circuit breaker changed state",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
		if config.OnBreakerStateChange != nil {
			config.OnBreakerStateChange(name, from, to)
		}
	}

	for endpoint := range c.urls {
		c.breakers[endpoint] = circuitbreaker.CollaboratorBreaker(
			endpoint,
			config.BreakerThreshold,
			config.BreakerCooldown,
			onChange,
			circuitbreaker.WithMaxHalfOpenRequests(config.BreakerHalfOpenMax),
			circuitbreaker.WithIsFailure(isBreakerFailure),
		)
	}

	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATOR CALLS
// ══════════════════════════════════════════════════════════════════════════════

// GenerateCurriculum asks for a curriculum and returns the raw payload.
func (c *Client) GenerateCurriculum(ctx context.Context, req CurriculumRequest) (json.RawMessage, error) {
	return c.post(ctx, EndpointCurriculum, req)
}

// GenerateQuiz asks for an assessment and returns the raw payload.
func (c *Client) GenerateQuiz(ctx context.Context, req QuizRequest) (json.RawMessage, error) {
	return c.post(ctx, EndpointQuiz, req)
}

// AnalyzeFeedback triggers feedback analysis and returns the raw payload.
func (c *Client) AnalyzeFeedback(ctx context.Context, req FeedbackRequest) (json.RawMessage, error) {
	return c.post(ctx, EndpointFeedback, req)
}

// FindResources looks up reference material for a concept.
func (c *Client) FindResources(ctx context.Context, req ResourcesRequest) ([]session.Resource, error) {
	payload, err := c.post(ctx, EndpointResources, req)
	if err != nil {
		return nil, err
	}
	return ResourcesFromPayload(payload, req.Limit), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// post sends one JSON request through the limiter and the endpoint breaker.
func (c *Client) post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	start := time.Now()

	url := c.urls[endpoint]
	if url == "" {
		return nil, shared.WrapError("collaborator", endpoint, shared.ErrExternalService,
			"endpoint is not configured", shared.ErrCollaboratorFailed)
	}

	if err := c.rateLimiter.Allow(ctx); err != nil {
		c.observe(endpoint, OutcomeRateLimited, start)
		if isRateLimited(err) {
			return nil, shared.WrapError("collaborator", endpoint, shared.ErrRateLimited, "rate limit exceeded", err)
		}
		return nil, err
	}

	var payload json.RawMessage
	err := c.breakers[endpoint].Execute(ctx, func(ctx context.Context) error {
		raw, err := c.doSingleRequest(ctx, endpoint, url, body)
		payload = raw
		return err
	})
	if err != nil {
		return nil, c.handleError(endpoint, start, err)
	}

	c.observe(endpoint, OutcomeSuccess, start)
	return payload, nil
}

func (c *Client) handleError(endpoint string, start time.Time, err error) error {
	log := c.logger.With(logger.String("endpoint", endpoint), logger.Latency(time.Since(start)))

	if circuitbreaker.IsRejected(err) {
		c.observe(endpoint, OutcomeRejected, start)
		log.Warn("collaborator call rejected by circuit breaker")
		return shared.WrapError("collaborator", endpoint, shared.ErrServiceUnavailable, "circuit breaker is open", err)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			c.observe(endpoint, OutcomeRateLimited, start)
		} else {
			c.observe(endpoint, OutcomeError, start)
		}
		log.Warn("collaborator returned error status", logger.Int("status", apiErr.StatusCode), logger.Err(err))
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.observe(endpoint, OutcomeError, start)
		return shared.WrapError("collaborator", endpoint, shared.ErrTimeout, "request cancelled", err)
	}

	c.observe(endpoint, OutcomeError, start)
	log.Warn("collaborator request failed", logger.Err(err))
	return shared.WrapError("collaborator", endpoint, shared.ErrServiceUnavailable, "request failed", err)
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, endpoint, url string, body any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}

	if c.config.Debug {
		c.logger.Debug("collaborator request", logger.String("endpoint", endpoint), logger.String("url", url))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := c.config.RateLimiter.DefaultRetryAfter
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		c.rateLimiter.RecordRateLimitHit(retryAfter)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(respBody) {
		return nil, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "response is not valid JSON"}
	}
	return json.RawMessage(respBody), nil
}

func (c *Client) observe(endpoint, outcome string, start time.Time) {
	if c.config.Observer != nil {
		c.config.Observer.ObserveCollaboratorCall(endpoint, outcome, time.Since(start))
	}
}

func isBreakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.countsAgainstBreaker()
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a snapshot of the client's protection layers.
type ClientStatus struct {
	RateLimiter RateLimiterStatus
	Breakers    map[string]string
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	breakers := make(map[string]string, len(c.breakers))
	for endpoint, cb := range c.breakers {
		breakers[endpoint] = cb.State().String()
	}
	return ClientStatus{
		RateLimiter: c.rateLimiter.Status(),
		Breakers:    breakers,
	}
}

// OpenBreakers lists endpoints whose breaker is currently open.
func (c *Client) OpenBreakers() []string {
	var open []string
	for _, endpoint := range []string{EndpointCurriculum, EndpointQuiz, EndpointFeedback, EndpointResources} {
		if c.breakers[endpoint].State() == circuitbreaker.StateOpen {
			open = append(open, endpoint)
		}
	}
	return open
}

// Reset resets the rate limiter and circuit breakers.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	for _, cb := range c.breakers {
		cb.Reset()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST ID PROPAGATION
// ══════════════════════════════════════════════════════════════════════════════

type requestIDKey struct{}

// WithRequestID stores the inbound request id so it is forwarded to the
// collaborators as X-Request-Id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
