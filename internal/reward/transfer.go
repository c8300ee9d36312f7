package reward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// ErrRejected marks a transfer the downstream mechanism refused outright.
// Rejections are not retried.
var ErrRejected = errors.New("reward transfer rejected")

// Transferer is the external reward-transfer mechanism.
// Issue must be safe to call repeatedly with the same token.
type Transferer interface {
	Issue(ctx context.Context, participantID, token string, amount int64) error
}

// MemoryTransferer records transfers in process, keyed by token.
// It stands in for a ledger in development and tests.
type MemoryTransferer struct {
	mu       sync.Mutex
	issued   map[string]Transfer
	calls    int
	failNext int
}

// Transfer is one net transfer made by a MemoryTransferer.
type Transfer struct {
	ParticipantID string
	Amount        int64
}

// NewMemoryTransferer creates an empty MemoryTransferer.
func NewMemoryTransferer() *MemoryTransferer {
	return &MemoryTransferer{issued: make(map[string]Transfer)}
}

// FailNext makes the next n calls fail with a transient error.
func (m *MemoryTransferer) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *MemoryTransferer) Issue(ctx context.Context, participantID, token string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("ledger unavailable")
	}
	if _, ok := m.issued[token]; !ok {
		m.issued[token] = Transfer{ParticipantID: participantID, Amount: amount}
	}
	return nil
}

// Transfers returns every net transfer keyed by token.
func (m *MemoryTransferer) Transfers() map[string]Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Transfer, len(m.issued))
	for k, v := range m.issued {
		out[k] = v
	}
	return out
}

// Calls returns how many times Issue was called.
func (m *MemoryTransferer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// HTTPTransferer posts transfers to a ledger service, passing the token as
// the Idempotency-Key header.
type HTTPTransferer struct {
	url    string
	client *http.Client
}

// NewHTTPTransferer creates a transferer for the ledger endpoint at url.
func NewHTTPTransferer(url string, timeout time.Duration) *HTTPTransferer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransferer{url: url, client: &http.Client{Timeout: timeout}}
}

type transferRequest struct {
	ParticipantID string `json:"participant_id"`
	Amount        int64  `json:"amount"`
}

func (h *HTTPTransferer) Issue(ctx context.Context, participantID, token string, amount int64) error {
	body, err := json.Marshal(transferRequest{ParticipantID: participantID, Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to marshal transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", token)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already accepted under this key.
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	default:
		return fmt.Errorf("%w: ledger returned %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(detail))
	}
}
