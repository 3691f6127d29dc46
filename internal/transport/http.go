// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/fieldworks/fieldsync/internal/metrics"
	"github.com/fieldworks/fieldsync/internal/models"
)

// HTTPTransport talks to the remote authority over a conventional JSON
// API. The wire contract the core actually depends on is small: the
// response carries the canonical entity with a comparable revision marker,
// and a conditional-update rejection comes back as 409/412 with the
// server's current snapshot in the body.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	creds   CredentialSource
}

// NewHTTPTransport creates a transport for the given API base URL.
// Per-call timeouts come from the caller's context (the retry policy sets
// them), so the underlying client carries none of its own.
func NewHTTPTransport(baseURL string, creds CredentialSource) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		creds:   creds,
	}
}

// SetTimeout bounds each HTTP round trip independent of the caller's
// context. Zero means no client-side bound.
func (t *HTTPTransport) SetTimeout(d time.Duration) {
	t.client.Timeout = d
}

// entityEnvelope is the response body for accepted operations.
type entityEnvelope struct {
	Entity   *models.Entity  `json:"entity"`
	Revision models.Revision `json:"revision"`
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.do(ctx, req)
	observeResult(err)
	return resp, err
}

func (t *HTTPTransport) do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := t.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("read response: %w", err)}
	}

	return classifyResponse(resp.StatusCode, body)
}

// observeResult counts each attempt by outcome. Cancellations are not
// counted; an abandoned pass says nothing about the remote.
func observeResult(err error) {
	switch {
	case err == nil:
		metrics.TransportRequests.WithLabelValues("success").Inc()
	case errors.Is(err, context.Canceled):
	case IsRetryable(err):
		metrics.TransportRequests.WithLabelValues("retryable").Inc()
	default:
		if _, ok := IsConflict(err); ok {
			metrics.TransportRequests.WithLabelValues("conflict").Inc()
			return
		}
		metrics.TransportRequests.WithLabelValues("permanent").Inc()
	}
}

func (t *HTTPTransport) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var method, path string
	switch req.Op {
	case models.OpCreate:
		method = http.MethodPost
		path = fmt.Sprintf("/api/v1/%s", url.PathEscape(req.EntityType))
	case models.OpUpdate:
		method = http.MethodPut
		path = fmt.Sprintf("/api/v1/%s/%s", url.PathEscape(req.EntityType), url.PathEscape(req.EntityID))
	case models.OpDelete:
		method = http.MethodDelete
		path = fmt.Sprintf("/api/v1/%s/%s", url.PathEscape(req.EntityType), url.PathEscape(req.EntityID))
	default:
		return nil, &PermanentError{Reason: fmt.Sprintf("unknown operation %q", req.Op)}
	}

	var body io.Reader
	if req.Payload != nil && req.Op != models.OpDelete {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, &PermanentError{Reason: fmt.Sprintf("encode payload: %v", err)}
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, &PermanentError{Reason: fmt.Sprintf("build request: %v", err)}
	}

	token, err := t.creds.Token(ctx)
	if err != nil {
		return nil, &PermanentError{Auth: true, Reason: fmt.Sprintf("credential source: %v", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if req.Op != models.OpCreate {
		httpReq.Header.Set("If-Match", strconv.FormatUint(uint64(req.BaseRevision), 10))
	}

	return httpReq, nil
}

func classifyResponse(status int, body []byte) (*Response, error) {
	switch {
	case status >= 200 && status < 300:
		var env entityEnvelope
		if len(body) > 0 {
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, &RetryableError{Status: status, Err: fmt.Errorf("decode response: %w", err)}
			}
		}
		rev := env.Revision
		if env.Entity != nil && rev == 0 {
			rev = env.Entity.Revision
		}
		return &Response{Entity: env.Entity, Revision: rev}, nil

	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		ce := &ConflictError{Status: status}
		if len(body) > 0 {
			var env entityEnvelope
			if err := json.Unmarshal(body, &env); err == nil {
				ce.Remote = env.Entity
			}
		}
		return nil, ce

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &PermanentError{Status: status, Auth: true, Reason: reason(body)}

	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return nil, &RetryableError{Status: status, Err: errors.New(reason(body))}

	default:
		// 400, 404, 422 and anything else in the 4xx band: the server
		// rejected the operation itself, retrying cannot help.
		return nil, &PermanentError{Status: status, Reason: reason(body)}
	}
}

func reason(body []byte) string {
	var msg struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err == nil {
		if msg.Error != "" {
			return msg.Error
		}
		if msg.Message != "" {
			return msg.Message
		}
	}
	if len(body) == 0 {
		return "no response body"
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// classifyNetworkError maps transport-level failures. Context
// cancellation passes through untouched: an abandoned drain pass is not a
// transport failure and must not trip the breaker's failure counter as a
// remote fault.
func classifyNetworkError(err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RetryableError{Err: context.DeadlineExceeded}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RetryableError{Err: err}
	}
	// Connection refused/reset and DNS hiccups are retryable by taxonomy.
	return &RetryableError{Err: err}
}
