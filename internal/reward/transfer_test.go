package reward

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransfererIsIdempotent(t *testing.T) {
	m := NewMemoryTransferer()
	ctx := context.Background()

	require.NoError(t, m.Issue(ctx, "alice", "tok-1", 10))
	require.NoError(t, m.Issue(ctx, "alice", "tok-1", 10))
	require.NoError(t, m.Issue(ctx, "bob", "tok-2", 10))

	assert.Equal(t, 3, m.Calls())
	assert.Len(t, m.Transfers(), 2, "same token transfers once")
}

func TestHTTPTransferer(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  bool
		rejected bool
	}{
		{"accepted", http.StatusCreated, false, false},
		{"already accepted", http.StatusConflict, false, false},
		{"bad request is a rejection", http.StatusBadRequest, true, true},
		{"server error is transient", http.StatusServiceUnavailable, true, false},
		{"throttled is transient", http.StatusTooManyRequests, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKey, gotBody string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotKey = r.Header.Get("Idempotency-Key")
				body, _ := io.ReadAll(r.Body)
				gotBody = string(body)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewHTTPTransferer(srv.URL, time.Second).Issue(context.Background(), "alice", "tok-1", 25)

			assert.Equal(t, "tok-1", gotKey)
			assert.JSONEq(t, `{"participant_id":"alice","amount":25}`, gotBody)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.rejected, errors.Is(err, ErrRejected))
		})
	}
}
