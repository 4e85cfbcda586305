// Package peer delivers signed payloads to other banks' well-known
// endpoints. One attempt per call, no retries: a failure is surfaced
// synchronously so the routing engine can compensate.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/metrics"
	"github.com/MarconiCalvo/NetworksProject/internal/models"
)

var (
	// ErrUnknownPeer is a configuration error: the bank code has no
	// registry entry. Never retried and never counted by the breaker.
	ErrUnknownPeer = errors.New("peer: bank code not registered")
	// ErrUnreachable covers connection failures, timeouts and an open
	// circuit breaker. Triggers compensation on the outgoing path.
	ErrUnreachable = errors.New("peer: unreachable")
	// ErrRejected means the peer answered with a non-success status.
	ErrRejected = errors.New("peer: rejected")
)

const maxResponseBytes = 1 << 20

// Ack is a peer's acknowledgment body.
type Ack struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
}

// Transport resolves bank codes through the static registry and posts
// JSON to the peer's endpoints. Each peer gets its own circuit breaker;
// a tripped breaker fails fast as unreachable without sending anything.
type Transport struct {
	registry map[string]string
	client   *http.Client
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewTransport(registry map[string]string, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Transport {
	return &Transport{
		registry: registry,
		client:   &http.Client{Timeout: timeout},
		log:      log,
		metrics:  m,
		breakers: map[string]*gobreaker.CircuitBreaker{},
	}
}

// Send posts an account-based transfer to the peer's intake endpoint.
func (t *Transport) Send(ctx context.Context, bankCode string, p models.TransferPayload) (*Ack, error) {
	return t.post(ctx, bankCode, "/api/receive-transfer", p)
}

// SendSinpe posts a phone-based transfer to the peer's intake endpoint.
func (t *Transport) SendSinpe(ctx context.Context, bankCode string, p models.TransferPayload) (*Ack, error) {
	return t.post(ctx, bankCode, "/api/sinpe-movil-transfer", p)
}

// SendPullFunds posts a signed pull-funds request to the holding bank.
func (t *Transport) SendPullFunds(ctx context.Context, bankCode string, req models.PullFundsRequest) (*Ack, error) {
	return t.post(ctx, bankCode, "/api/pull-funds", req)
}

type peerResult struct {
	ack      *Ack
	rejected bool
	status   int
	reason   string
}

func (t *Transport) post(ctx context.Context, bankCode, path string, body any) (*Ack, error) {
	base, ok := t.registry[bankCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, bankCode)
	}

	start := time.Now()
	raw, err := t.breaker(bankCode).Execute(func() (any, error) {
		return t.doPost(ctx, base+path, body)
	})
	if err != nil {
		t.metrics.ObservePeerRequest(bankCode, "unreachable", time.Since(start))
		t.log.Warn("peer call failed",
			zap.String("bank_code", bankCode),
			zap.String("path", path),
			zap.Error(err))
		return nil, fmt.Errorf("%w: bank %s: %v", ErrUnreachable, bankCode, err)
	}

	res := raw.(*peerResult)
	if res.rejected {
		t.metrics.ObservePeerRequest(bankCode, "rejected", time.Since(start))
		return nil, fmt.Errorf("%w: bank %s returned %d: %s", ErrRejected, bankCode, res.status, res.reason)
	}
	t.metrics.ObservePeerRequest(bankCode, "ok", time.Since(start))
	return res.ack, nil
}

// doPost returns an error only for transport failures; a peer rejection
// is a delivered answer and must not trip the breaker.
func (t *Transport) doPost(ctx context.Context, url string, body any) (*peerResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &peerResult{
			rejected: true,
			status:   resp.StatusCode,
			reason:   rejectionReason(raw),
		}, nil
	}

	ack := &Ack{}
	if err := json.Unmarshal(raw, ack); err != nil {
		// A 2xx with an unparseable body still acknowledges receipt.
		ack = &Ack{Status: "ACK"}
	}
	return &peerResult{ack: ack}, nil
}

func (t *Transport) breaker(bankCode string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok := t.breakers[bankCode]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "peer-" + bankCode,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Warn("peer circuit breaker state changed",
				zap.String("peer", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	t.breakers[bankCode] = cb
	return cb
}

// rejectionReason pulls a human-readable reason out of a peer's error
// body, falling back to the raw text.
func rejectionReason(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
