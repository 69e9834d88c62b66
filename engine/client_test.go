package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMatchesSuccess(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ExtractEndpoint, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"Ada": {"new_matches_stored": 37}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	result, err := client.ExtractMatches(context.Background(), Request{
		Players:             []string{"Ada"},
		MaxMatchesPerPlayer: 50,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Ada"}, got.Players)
	assert.Equal(t, 50, got.MaxMatchesPerPlayer)
	assert.Empty(t, result.Error)
	assert.Equal(t, 37, result.Stored("Ada"))
}

func TestExtractMatchesResultError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer server.Close()

	result, err := NewClient(server.URL, time.Second).ExtractMatches(context.Background(), Request{Players: []string{"Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "rate limited", result.Error)
}

func TestExtractMatchesServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).ExtractMatches(context.Background(), Request{Players: []string{"Ada"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestExtractMatchesHonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(server.URL, 5*time.Second).ExtractMatches(ctx, Request{Players: []string{"Ada"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResultJSON(t *testing.T) {
	var r Result
	require.NoError(t, json.Unmarshal([]byte(`{"Ada": {"new_matches_stored": 3}, "Lux": {"new_matches_stored": 0, "error": "not found"}}`), &r))
	assert.Equal(t, 3, r.Stored("Ada"))
	assert.Equal(t, "not found", r.Players["Lux"].Error)

	for _, body := range []string{`{"error": null}`, `{"error": 42}`, `{"error": {"new_matches_stored": 1}}`} {
		var bad Result
		assert.Error(t, json.Unmarshal([]byte(body), &bad), body)
	}

	var failed Result
	require.NoError(t, json.Unmarshal([]byte(`{"error": "rate limited"}`), &failed))
	assert.Equal(t, "rate limited", failed.Error)
	assert.Empty(t, failed.Players)

	data, err := json.Marshal(Result{Error: "down"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"down"}`, string(data))
}
