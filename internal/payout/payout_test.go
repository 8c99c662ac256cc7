package payout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPGateway_Payout(t *testing.T) {
	ref := uuid.New()

	tests := []struct {
		name        string
		status      int
		body        string
		wantSuccess bool
		wantReason  string
		wantRef     string
	}{
		{"paid", http.StatusOK, `{"status":"paid","external_ref":"po_123"}`, true, "", "po_123"},
		{"declined with reason", http.StatusUnprocessableEntity, `{"status":"failed","reason":"account closed"}`, false, "account closed", ""},
		{"declined without reason", http.StatusOK, `{"status":"failed"}`, false, "provider returned status 200 (failed)", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/payouts", r.URL.Path)
				assert.Equal(t, ref.String(), r.Header.Get("Idempotency-Key"))

				var body payoutBody
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, ref.String(), body.Reference)
				assert.Equal(t, int64(2500), body.Amount)
				assert.Equal(t, "acct-9", body.Destination)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewHTTPGateway(srv.URL+"/", time.Second, quietLogger())
			res, err := g.Payout(context.Background(), Request{Reference: ref, Amount: 2500, Destination: "acct-9"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, tt.wantRef, res.ExternalRef)
		})
	}
}

func TestHTTPGateway_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"paid","external_ref":"po_1"}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, 5*time.Second, quietLogger())
	res, err := g.Payout(context.Background(), Request{Reference: uuid.New(), Amount: 10, Destination: "acct"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPGateway_GivesUpWhenProviderStaysDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, 100*time.Millisecond, quietLogger())
	_, err := g.Payout(context.Background(), Request{Reference: uuid.New(), Amount: 10, Destination: "acct"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errServer))
}

func TestHTTPGateway_Status(t *testing.T) {
	paid, failed, pending, missing := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/payouts/" + paid.String():
			_, _ = w.Write([]byte(`{"status":"paid","external_ref":"po_7"}`))
		case "/payouts/" + failed.String():
			_, _ = w.Write([]byte(`{"status":"failed","reason":"returned by bank"}`))
		case "/payouts/" + pending.String():
			_, _ = w.Write([]byte(`{"status":"processing"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, time.Second, quietLogger())
	ctx := context.Background()

	st, err := g.Status(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, Status{State: StatePaid, ExternalRef: "po_7"}, *st)

	st, err = g.Status(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "returned by bank", st.Reason)

	st, err = g.Status(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, st.State)

	st, err = g.Status(ctx, missing)
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, st.State)
}

func TestFake(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	ok, declined := uuid.New(), uuid.New()

	res, err := f.Payout(ctx, Request{Reference: ok, Amount: 5})
	require.NoError(t, err)
	assert.True(t, res.Success)

	f.Decline = "insufficient provider balance"
	res, err = f.Payout(ctx, Request{Reference: declined, Amount: 5})
	require.NoError(t, err)
	assert.False(t, res.Success)

	st, err := f.Status(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, StatePaid, st.State)
	st, err = f.Status(ctx, declined)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	st, err = f.Status(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, st.State)

	assert.Len(t, f.Calls(), 2)
}

func TestHTTPGateway_UndecidedPayoutIsNotADecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"processing"}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, time.Second, quietLogger())
	res, err := g.Payout(context.Background(), Request{Reference: uuid.New(), Amount: 10, Destination: "acct"})
	require.ErrorIs(t, err, ErrOutcomeUnknown)
	assert.Nil(t, res)
}
