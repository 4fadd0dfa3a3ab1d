// Package transport sends requests to the backend and classifies failures.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/bfast/bfast-go/pkg/apperr"
)

// HeaderRequestID carries the per-request identifier.
const HeaderRequestID = "X-Request-Id"

// Request is one backend call.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers http.Header
	// Body is sent as-is when it is []byte or an io.Reader, JSON-encoded otherwise.
	Body any
	// Component labels metrics and spans, e.g. "database".
	Component string
}

// Response is a successful (2xx) backend response.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RequestID string
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return apperr.Network(nil, "empty response body")
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return apperr.Network(err, "malformed response body")
	}
	return nil
}

// Transport is the HTTP collaborator of every SDK component.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// remoteError is the error body the backend returns.
type remoteError struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
