package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(url string) *Client {
	c := NewClient(url, "secret", time.Second)
	c.policy.Sleep = noSleep
	return c
}

func TestScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is a service person", req.Query)
		assert.Len(t, req.Texts, 3)

		// Services usually answer sorted by score, not by index.
		_ = json.NewEncoder(w).Encode([]scoreResult{
			{Index: 2, Score: 0.9},
			{Index: 0, Score: 0.4},
			{Index: 1, Score: 0.1},
		})
	}))
	defer srv.Close()

	scores, err := newTestClient(srv.URL).Score(context.Background(), "what is a service person", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.1, 0.9}, scores)
}

func TestScore_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode([]scoreResult{{Index: 0, Score: 1}})
	}))
	defer srv.Close()

	scores, err := newTestClient(srv.URL).Score(context.Background(), "q", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, scores)
	assert.Equal(t, int32(2), calls.Load())
}

func TestScore_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Score(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestScore_BadIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]scoreResult{{Index: 5, Score: 1}})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Score(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
}

func TestScore_NoTexts(t *testing.T) {
	scores, err := newTestClient("http://127.0.0.1:1").Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
}
