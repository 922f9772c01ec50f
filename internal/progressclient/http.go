// Package progressclient implements engagement.ProgressClient against the
// progress service, over REST or gRPC.
package progressclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/course-platform/internal/engagement"
	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/platform/httpserver"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// StatusError is a non-2xx answer from the progress service.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("progress service: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("progress service: %d", e.StatusCode)
}

// TokenFunc returns the bearer token for a call.
type TokenFunc func(ctx context.Context) (string, error)

type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      TokenFunc
	CB         *gobreaker.CircuitBreaker
	Log        *zap.Logger
}

// Option configures the HTTPClient.
type Option func(*HTTPClient)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *HTTPClient) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *HTTPClient) { c.Log = log }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.HTTPClient = hc }
}

func WithStaticToken(token string) Option {
	return func(c *HTTPClient) {
		c.Token = func(context.Context) (string, error) { return token, nil }
	}
}

func WithTokenFunc(fn TokenFunc) Option {
	return func(c *HTTPClient) { c.Token = fn }
}

func NewHTTP(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ForRequest returns a copy that calls on behalf of the learner whose token
// is in ctx. The transport and breaker stay shared.
func (c *HTTPClient) ForRequest(ctx context.Context) *HTTPClient {
	cp := *c
	if tok, ok := auth.TokenFromContext(ctx); ok {
		cp.Token = func(context.Context) (string, error) { return tok, nil }
	}
	return &cp
}

// NewBreaker builds the breaker used in front of the progress service. Only
// transport failures and 5xx answers count against it.
func NewBreaker(name string, failureThreshold uint32, openTimeout time.Duration, log *zap.Logger) *gobreaker.CircuitBreaker {
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

type pushBody struct {
	TimeDelta        int  `json:"time_delta"`
	ScrolledToBottom bool `json:"scrolled_to_bottom"`
}

type pushEnvelope struct {
	Success bool                     `json:"success"`
	Data    *engagement.ProgressData `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) lectureURL(lectureID, suffix string) string {
	return c.BaseURL + "/v1/lectures/" + url.PathEscape(lectureID) + suffix
}

func (c *HTTPClient) StartSession(ctx context.Context, lectureID string) error {
	_, _, err := c.do(ctx, c.lectureURL(lectureID, "/start"), nil, "")
	return err
}

// PushDelta sends one delta. Each call carries a fresh Idempotency-Key; the
// engine never retries a request, it accumulates and sends a new one.
func (c *HTTPClient) PushDelta(ctx context.Context, lectureID string, d engagement.Delta) (engagement.PushResult, error) {
	body, err := json.Marshal(pushBody{TimeDelta: d.TimeDelta, ScrolledToBottom: d.ScrolledToBottom})
	if err != nil {
		return engagement.PushResult{}, err
	}
	status, raw, err := c.do(ctx, c.lectureURL(lectureID, "/progress"), body, uuid.NewString())
	if err != nil {
		return engagement.PushResult{}, err
	}
	if status == http.StatusAccepted || len(bytes.TrimSpace(raw)) == 0 {
		return engagement.PushResult{Success: true}, nil
	}

	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return engagement.PushResult{}, fmt.Errorf("decode progress response: %w", err)
	}
	return engagement.PushResult{Success: env.Success, Data: env.Data}, nil
}

func (c *HTTPClient) do(ctx context.Context, u string, body []byte, idempotencyKey string) (int, []byte, error) {
	type answer struct {
		status int
		body   []byte
	}
	call := func() (interface{}, error) {
		status, raw, err := c.send(ctx, u, body, idempotencyKey)
		return answer{status, raw}, err
	}
	if c.CB == nil {
		a, err := call()
		return a.(answer).status, a.(answer).body, err
	}
	res, err := c.CB.Execute(call)
	if err != nil {
		return 0, nil, err
	}
	a := res.(answer)
	return a.status, a.body, nil
}

func (c *HTTPClient) send(ctx context.Context, u string, body []byte, idempotencyKey string) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if rid := httpserver.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}
	if c.Token != nil {
		tok, err := c.Token(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("progress token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil {
			se.Code = env.Error.Code
			se.Message = env.Error.Message
		}
		c.Log.Debug("progress service rejected request",
			zap.String("url", u),
			zap.Int("status", resp.StatusCode),
			zap.String("code", se.Code),
		)
		return resp.StatusCode, raw, se
	}
	return resp.StatusCode, raw, nil
}
