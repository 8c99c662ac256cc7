package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// HTTPGateway calls a payout provider over JSON/HTTP. Payout requests carry
// the reference as Idempotency-Key, so retrying a request that may already
// have reached the provider is safe.
type HTTPGateway struct {
	baseURL    string
	client     *http.Client
	maxElapsed time.Duration
	logger     *slog.Logger
}

func NewHTTPGateway(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPGateway {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		maxElapsed: 2 * timeout,
		logger:     logger,
	}
}

type payoutBody struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
}

type payoutResponse struct {
	Status      string `json:"status"`
	ExternalRef string `json:"external_ref"`
	Reason      string `json:"reason"`
}

// Payout returns a non-successful Result when the provider rejected or
// declined the request. Transport failures, exhausted 5xx retries and
// undecided answers are errors.
func (g *HTTPGateway) Payout(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(payoutBody{
		Reference:   req.Reference.String(),
		Amount:      req.Amount,
		Destination: req.Destination,
	})
	if err != nil {
		return nil, err
	}
	var out payoutResponse
	status, err := g.do(ctx, http.MethodPost, "/payouts", body, req.Reference.String(), &out)
	if err != nil {
		return nil, err
	}
	switch {
	case status < 400 && out.Status == string(StatePaid):
		return &Result{Success: true, ExternalRef: out.ExternalRef}, nil
	case status >= 400 || out.Status == string(StateFailed):
		reason := out.Reason
		if reason == "" {
			reason = fmt.Sprintf("provider returned status %d (%s)", status, out.Status)
		}
		return &Result{Success: false, ExternalRef: out.ExternalRef, Reason: reason}, nil
	}
	return nil, fmt.Errorf("%w: provider status %q", ErrOutcomeUnknown, out.Status)
}

func (g *HTTPGateway) Status(ctx context.Context, reference uuid.UUID) (*Status, error) {
	var out payoutResponse
	status, err := g.do(ctx, http.MethodGet, "/payouts/"+reference.String(), nil, "", &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &Status{State: StateNotFound}, nil
	}
	switch State(out.Status) {
	case StatePaid, StateFailed:
		return &Status{State: State(out.Status), ExternalRef: out.ExternalRef, Reason: out.Reason}, nil
	}
	return &Status{State: StateUnknown, ExternalRef: out.ExternalRef}, nil
}

var errServer = errors.New("payout provider server error")

// do retries network errors and 5xx responses with exponential backoff.
// Any other response is returned with its status code.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out any) (int, error) {
	var status int
	op := func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("calling payout provider: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %d", errServer, resp.StatusCode)
		}
		status = resp.StatusCode
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		if err != nil && !errors.Is(err, io.EOF) && resp.StatusCode < 400 {
			return backoff.Permanent(fmt.Errorf("payout provider returned invalid JSON: %w", err))
		}
		return nil
	}
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(g.maxElapsed),
	), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		g.logger.WarnContext(ctx, "payout provider call failed, retrying", "path", path, "wait", wait, "error", err)
	})
	return status, err
}
