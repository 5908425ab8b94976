package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-bot/internal/apperr"
	"github.com/wolfman30/clinic-booking-bot/pkg/logging"
)

func newTestClient(attempts int) *Client {
	return New(Config{
		Name:        "test",
		Timeout:     time.Second,
		MaxAttempts: attempts,
		Backoff:     time.Millisecond,
		Logger:      logging.Default(),
	})
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get(HeaderIdempotencyKey))
		mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"to":"5511"}` {
			t.Errorf("body not replayed on retry: %q", body)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(3).Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   []byte(`{"to":"5511"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, keys, 3)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], keys[2])
	assert.Equal(t, resp.IdempotencyKey, keys[0])
}

func TestDoTerminalClientErrorSingleAttempt(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   apperr.Kind
	}{
		{"bad request", http.StatusBadRequest, apperr.KindUnknown},
		{"unauthorized", http.StatusUnauthorized, apperr.KindAuth},
		{"forbidden", http.StatusForbidden, apperr.KindAuth},
		{"not found", http.StatusNotFound, apperr.KindNotFound},
		{"too many requests", http.StatusTooManyRequests, apperr.KindRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			resp, err := newTestClient(3).Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
			require.Error(t, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			require.NotNil(t, resp)
			assert.Equal(t, 1, resp.Attempts)
			if tt.kind == apperr.KindUnknown {
				var se *StatusError
				assert.ErrorAs(t, err, &se)
			}
		})
	}
}

func TestDoExhaustedRetriesIsTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(4).Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestDoPerAttemptTimeoutIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(Config{Name: "test", Timeout: 50 * time.Millisecond, MaxAttempts: 2, Backoff: time.Millisecond})
	resp, err := client.Do(context.Background(), Request{Method: http.MethodDelete, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDoNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(2).Do(context.Background(), Request{Method: http.MethodGet, URL: url})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestDoJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer tok")
	var out struct {
		Echo string `json:"echo"`
	}
	_, err := newTestClient(1).DoJSON(context.Background(), http.MethodPost, srv.URL, header, map[string]string{"msg": "oi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "oi", out.Echo)
}

func TestTransportRetriesAndReturnsFinalResponse(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.Header.Get(HeaderIdempotencyKey) == "" {
			t.Errorf("missing idempotency header")
		}
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403}}`))
	}))
	defer srv.Close()

	hc := newTestClient(3).StandardClient()
	resp, err := hc.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "403")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
