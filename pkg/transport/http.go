package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/metrics"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
	"github.com/bfast/bfast-go/pkg/resilience"
	"github.com/bfast/bfast-go/pkg/version"
)

// HTTPTransport sends requests with net/http, adding request ids, client-side
// rate limiting, a circuit breaker, tracing and metrics.
type HTTPTransport struct {
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	userAgent string
	maxBody   int64
	log       logger.Logger
}

// Option customizes an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient replaces the underlying client, e.g. to point at a test server.
func WithHTTPClient(client *http.Client) Option {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// NewHTTPTransport builds a transport from cfg.
func NewHTTPTransport(cfg config.TransportConfig, log logger.Logger, opts ...Option) *HTTPTransport {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConnsPerHost > 0 {
		base.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	t := &HTTPTransport{
		client:    &http.Client{Timeout: cfg.Timeout, Transport: base},
		userAgent: strings.TrimSpace(cfg.UserAgent),
		maxBody:   cfg.MaxResponseBytes,
		log:       logger.OrNop(log),
	}
	if t.maxBody <= 0 {
		t.maxBody = config.DefaultMaxResponseBytes
	}
	if t.userAgent == "" {
		t.userAgent = version.UserAgent()
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}
	if cfg.CircuitBreaker.MaxFailures > 0 {
		t.breaker = resilience.NewCircuitBreaker(
			cfg.CircuitBreaker.MaxFailures,
			cfg.CircuitBreaker.ResetTimeout,
			resilience.WithFailurePredicate(func(err error) bool { return errors.Is(err, apperr.ErrNetwork) }),
		)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send performs req. Non-2xx responses are returned as classified *apperr.Error values.
func (t *HTTPTransport) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, apperr.Network(err, "rate limiter wait aborted")
		}
	}

	var resp *Response
	send := func(ctx context.Context) error {
		var err error
		resp, err = t.do(ctx, req)
		return err
	}
	var err error
	if t.breaker != nil {
		err = t.breaker.Execute(ctx, send)
		if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
			err = apperr.Network(err, "backend unavailable")
		}
	} else {
		err = send(ctx)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *HTTPTransport) do(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, apperr.Validation("invalid request: %v", err)
	}
	for k, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	requestID := httpReq.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		httpReq.Header.Set(HeaderRequestID, requestID)
	}
	httpReq.Header.Set("User-Agent", t.userAgent)
	httpReq.Header.Set("Accept-Encoding", "br, gzip")

	component := req.Component
	if component == "" {
		component = "http"
	}
	if logger.CallIDFromContext(ctx) == "" {
		ctx = logger.ContextWithCallID(ctx, requestID)
	}
	log := t.log.WithContext(ctx).With("component", component, "method", req.Method, "request_id", requestID)

	ctx, span := tracing.StartHTTPSpan(ctx, httpReq)
	httpReq = httpReq.WithContext(ctx)

	metrics.IncrementInFlight()
	start := time.Now()
	httpResp, err := t.client.Do(httpReq)
	metrics.DecrementInFlight()
	if err != nil {
		metrics.RecordRequest(component, req.Method, 0, time.Since(start))
		log.Warn("backend request failed", "error", err)
		netErr := apperr.Network(err, "backend request failed")
		tracing.End(span, netErr)
		return nil, netErr
	}
	defer httpResp.Body.Close()
	metrics.RecordRequest(component, req.Method, httpResp.StatusCode, time.Since(start))

	raw, err := readBody(httpResp, t.maxBody)
	if err != nil {
		netErr := apperr.Network(err, "reading response body failed")
		tracing.End(span, netErr)
		return nil, netErr
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		remoteErr := decodeRemoteError(httpResp.StatusCode, raw)
		log.Debug("backend returned an error", "status", httpResp.StatusCode, "error", remoteErr)
		tracing.End(span, remoteErr)
		return nil, remoteErr
	}

	tracing.End(span, nil)
	return &Response{
		Status:    httpResp.StatusCode,
		Header:    httpResp.Header,
		Body:      raw,
		RequestID: requestID,
	}, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case io.Reader:
		return b, "", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", apperr.Validation("request body is not serializable: %v", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}

var errBodyTooLarge = errors.New("response body exceeds the configured limit")

// readBody decodes br/gzip bodies and refuses anything larger than limit
// once decompressed.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", errBodyTooLarge, limit)
	}
	return raw, nil
}

func decodeRemoteError(status int, raw []byte) error {
	var body remoteError
	if err := json.Unmarshal(raw, &body); err != nil {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return apperr.FromResponse(status, 0, msg)
	}
	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("backend returned status %d", status)
	}
	return apperr.FromResponse(status, body.Code, msg)
}
