package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/explainly/explainly/internal/apperr"
	"github.com/explainly/explainly/internal/metrics"
)

// Request is one role-tagged prompt sent to the model.
type Request struct {
	Operation   string // metrics and log label, e.g. "generate_questions"
	System      string
	User        string
	Temperature float32
	JSON        bool
	MaxTokens   int
}

// RetryPolicy bounds every outbound call. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
}

// DefaultRetryPolicy retries a transient failure once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Timeout:     30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Retry             RetryPolicy
	RequestsPerSecond float64 // 0 disables client-side rate limiting
}

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     chatAPI
	model   string
	retry   RetryPolicy
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return newClient(openai.NewClientWithConfig(config), cfg)
}

func newClient(api chatAPI, cfg Config) *Client {
	c := &Client{
		api:   api,
		model: cfg.Model,
		retry: cfg.Retry.normalized(),
		sleep: sleepCtx,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// Ping checks that the endpoint answers within one attempt timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.retry.Timeout)
	defer cancel()
	if _, err := c.api.ListModels(ctx); err != nil {
		return classify("llm.ping", err)
	}
	return nil
}

// Complete sends req and returns the first choice's content. Transient
// failures are retried according to the client's RetryPolicy; everything
// else fails immediately. Errors carry apperr.KindUpstreamTimeout or
// apperr.KindUpstreamGeneration.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	op := "llm." + req.Operation
	backoff := c.retry.Backoff
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", classify(op, err)
			}
		}

		text, err := c.once(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(err) || attempt == c.retry.MaxAttempts {
			break
		}

		slog.Warn("LLM request retrying",
			"operation", req.Operation,
			"attempt", attempt,
			"max_attempts", c.retry.MaxAttempts,
			"sleep", backoff.String(),
			"error", err,
		)
		if err := c.sleep(ctx, backoff); err != nil {
			break
		}
		backoff *= 2
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}

	return "", classify(op, lastErr)
}

func (c *Client) once(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.retry.Timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	metrics.LLMDuration.WithLabelValues(req.Operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequests.WithLabelValues(req.Operation, outcome(err)).Inc()
		return "", err
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(req.Operation, "empty").Inc()
		return "", errNoChoices
	}
	metrics.LLMRequests.WithLabelValues(req.Operation, "ok").Inc()

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "operation", req.Operation, "raw", raw)
	return raw, nil
}

var errNoChoices = errors.New("LLM returned no choices")

// IsTransient reports whether err is worth retrying: timeouts, connection
// failures and 408/429/5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 {
			return true
		}
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func retryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return apperr.Wrap(apperr.KindUpstreamTimeout, op, err)
	}
	return apperr.Wrap(apperr.KindUpstreamGeneration, op, err)
}

func outcome(err error) string {
	switch {
	case isTimeout(err):
		return "timeout"
	case IsTransient(err):
		return "transient_error"
	default:
		return "permanent_error"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// String describes the client for startup logs.
func (c *Client) String() string {
	return fmt.Sprintf("llm(model=%s attempts=%d timeout=%s)", c.model, c.retry.MaxAttempts, c.retry.Timeout)
}
