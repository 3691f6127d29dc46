// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/fieldsync/internal/models"
)

func updateRequest() *Request {
	return &Request{
		Op:         models.OpUpdate,
		EntityType: models.TypeServiceOrder,
		EntityID:   "so-1",
		Payload: &models.Entity{
			Type: models.TypeServiceOrder, ID: "so-1", Revision: 3,
		},
		BaseRevision:   3,
		IdempotencyKey: "idem-123",
	}
}

func TestHTTPTransportRequestShape(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotIdem, gotIfMatch string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		gotIfMatch = r.Header.Get("If-Match")

		entity := &models.Entity{Type: models.TypeServiceOrder, ID: "so-1", Revision: 4}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"entity": entity, "revision": 4})
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, StaticCredential("tok-1"))
	resp, err := tr.Do(context.Background(), updateRequest())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/v1/service_order/so-1", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "idem-123", gotIdem)
	assert.Equal(t, "3", gotIfMatch)
	assert.Equal(t, models.Revision(4), resp.Revision)
	require.NotNil(t, resp.Entity)
	assert.Equal(t, models.Revision(4), resp.Entity.Revision)
}

func TestHTTPTransportCreateHasNoIfMatch(t *testing.T) {
	var gotIfMatch string
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIfMatch = r.Header.Get("If-Match")
		gotMethod = r.Method
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, StaticCredential("tok"))
	req := updateRequest()
	req.Op = models.OpCreate
	_, err := tr.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, gotIfMatch)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestHTTPTransportClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "conflict carries remote snapshot",
			status: http.StatusConflict,
			body:   `{"entity":{"type":"service_order","id":"so-1","revision":9}}`,
			check: func(t *testing.T, err error) {
				ce, ok := IsConflict(err)
				require.True(t, ok)
				require.NotNil(t, ce.Remote)
				assert.Equal(t, models.Revision(9), ce.Remote.Revision)
			},
		},
		{
			name:   "precondition failed is a conflict",
			status: http.StatusPreconditionFailed,
			check: func(t *testing.T, err error) {
				_, ok := IsConflict(err)
				assert.True(t, ok)
			},
		},
		{
			name:   "unauthorized is a permanent auth failure",
			status: http.StatusUnauthorized,
			body:   `{"error":"token expired"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsAuthFailure(err))
				assert.False(t, IsRetryable(err))
			},
		},
		{
			name:   "unprocessable is permanent but not auth",
			status: http.StatusUnprocessableEntity,
			body:   `{"error":"missing field"}`,
			check: func(t *testing.T, err error) {
				var pe *PermanentError
				require.ErrorAs(t, err, &pe)
				assert.False(t, pe.Auth)
				assert.Equal(t, "missing field", pe.Reason)
			},
		},
		{
			name:   "server error is retryable",
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, err error) {
				assert.True(t, IsRetryable(err))
			},
		},
		{
			name:   "too many requests is retryable",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				assert.True(t, IsRetryable(err))
			},
		},
		{
			name:   "not found is permanent",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var pe *PermanentError
				assert.ErrorAs(t, err, &pe)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tr := NewHTTPTransport(server.URL, StaticCredential("tok"))
			_, err := tr.Do(context.Background(), updateRequest())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestHTTPTransportDeadlineIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, StaticCredential("tok"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Do(ctx, updateRequest())
	assert.True(t, IsRetryable(err), "deadline exceeded should classify as retryable, got %v", err)
}

func TestHTTPTransportCancellationPassesThrough(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, StaticCredential("tok"))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := tr.Do(ctx, updateRequest())
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.False(t, IsRetryable(err))
}

func TestHTTPTransportConnectionRefusedIsRetryable(t *testing.T) {
	// Reserve a port, then close the listener so nothing is answering.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := server.URL
	server.Close()

	tr := NewHTTPTransport(addr, StaticCredential("tok"))
	_, err := tr.Do(context.Background(), updateRequest())
	assert.True(t, IsRetryable(err), "got %v", err)
}
