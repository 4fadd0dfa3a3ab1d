package database

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
)

// BatchRequest is one queued write of a transaction.
type BatchRequest struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   any    `json:"body,omitempty"`
}

// BatchResult is the outcome of one queued write, in queue order.
type BatchResult struct {
	Success json.RawMessage `json:"success,omitempty"`
	Error   *BatchError     `json:"error,omitempty"`
}

// OK reports whether the write succeeded.
func (r BatchResult) OK() bool { return r.Error == nil }

// BatchError is the backend's rejection of one queued write.
type BatchError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// Err converts the rejection into a classified error.
func (e *BatchError) Err() error {
	if e == nil {
		return nil
	}
	return apperr.FromResponse(http.StatusBadRequest, e.Code, e.Message)
}

// Transaction queues writes across domains and commits them in one batch.
// A Transaction is not safe for concurrent use.
type Transaction struct {
	db       *Database
	requests []BatchRequest
	domains  map[string]struct{}
	err      error
}

// Transaction starts an empty transaction.
func (db *Database) Transaction() *Transaction {
	return &Transaction{db: db, domains: make(map[string]struct{})}
}

// Create queues the creation of record in domain.
func (tx *Transaction) Create(domain string, record any) *Transaction {
	return tx.queue(http.MethodPost, domain, "", record)
}

// Update queues an update of the record id in domain.
func (tx *Transaction) Update(domain, id string, fields map[string]any) *Transaction {
	if strings.TrimSpace(id) == "" {
		return tx.fail(apperr.Validation("update in %s: id is required", domain))
	}
	return tx.queue(http.MethodPut, domain, id, fields)
}

// Delete queues the deletion of the record id in domain.
func (tx *Transaction) Delete(domain, id string) *Transaction {
	if strings.TrimSpace(id) == "" {
		return tx.fail(apperr.Validation("delete in %s: id is required", domain))
	}
	return tx.queue(http.MethodDelete, domain, id, nil)
}

// Len returns the number of queued writes.
func (tx *Transaction) Len() int { return len(tx.requests) }

func (tx *Transaction) queue(method, domain, id string, body any) *Transaction {
	if strings.TrimSpace(domain) == "" {
		return tx.fail(apperr.Validation("domain is required"))
	}
	path := "/classes/" + url.PathEscape(domain)
	if id != "" {
		path += "/" + url.PathEscape(id)
	}
	tx.requests = append(tx.requests, BatchRequest{Method: method, Path: path, Body: body})
	tx.domains[domain] = struct{}{}
	return tx
}

func (tx *Transaction) fail(err error) *Transaction {
	if tx.err == nil {
		tx.err = err
	}
	return tx
}

// Commit sends the queued writes. The returned results line up with the
// queue; a per-request failure is reported in its result, not as err.
func (tx *Transaction) Commit(ctx context.Context, opts ...RequestOptions) (results []BatchResult, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "commit", "batch")
	defer func() { tracing.End(span, err) }()

	if tx.err != nil {
		return nil, tx.err
	}
	if len(tx.requests) == 0 {
		return nil, apperr.Validation("transaction has no requests")
	}
	target, err := tx.db.url("batch")
	if err != nil {
		return nil, err
	}
	body := struct {
		Requests []BatchRequest `json:"requests"`
	}{Requests: tx.requests}

	resp, err := tx.db.send(ctx, http.MethodPost, target, nil, body, masterOf(opts))
	if err != nil {
		return nil, err
	}
	if err := resp.Decode(&results); err != nil {
		return nil, err
	}
	if len(results) != len(tx.requests) {
		return results, apperr.Network(nil, "batch response does not match the request count")
	}

	for domain := range tx.domains {
		NewDomain[map[string]any](tx.db, domain).invalidate(ctx)
	}
	tx.requests = nil
	tx.domains = make(map[string]struct{})
	return results, nil
}
