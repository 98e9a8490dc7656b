// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "agentgov/shared/errors"
)

func TestOPAAdapter_CircuitOpensAfterThreshold(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewOPAAdapter(srv.URL, 2, 50*time.Millisecond)

	_, err1 := a.Evaluate(context.Background(), "o1", "a1", "search", 10, nil)
	require.Error(t, err1)
	_, err2 := a.Evaluate(context.Background(), "o1", "a1", "search", 10, nil)
	require.Error(t, err2)

	// Circuit should now be open; a third call must fail fast without
	// hitting the server again.
	before := atomic.LoadInt32(&hits)
	_, err3 := a.Evaluate(context.Background(), "o1", "a1", "search", 10, nil)
	require.Error(t, err3)
	var svcErr *agerrors.ServiceUnavailableError
	assert.ErrorAs(t, err3, &svcErr)
	assert.Equal(t, before, atomic.LoadInt32(&hits), "circuit-open call must not reach the remote engine")
}

func TestOPAAdapter_HalfOpenProbeClosesCircuitOnSuccess(t *testing.T) {
	failing := int32(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&failing) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":true}`))
	}))
	defer srv.Close()

	a := NewOPAAdapter(srv.URL, 1, 20*time.Millisecond)

	_, err := a.Evaluate(context.Background(), "o1", "a1", "search", 10, nil)
	require.Error(t, err)

	time.Sleep(30 * time.Millisecond)
	atomic.StoreInt32(&failing, 0)

	decision, err := a.Evaluate(context.Background(), "o1", "a1", "search", 10, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	a.mu.Lock()
	open := !a.circuitOpenUntil.IsZero()
	a.mu.Unlock()
	assert.False(t, open, "a successful probe must close the circuit")
}
