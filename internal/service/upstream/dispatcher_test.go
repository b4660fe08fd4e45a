package upstream

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

	"github.com/hyunwoolee/gemini-relay/internal/config"
	"github.com/hyunwoolee/gemini-relay/internal/model/genai"
)

func newTestClient(baseURL string, keepAlive time.Duration) *Client {
	return NewClient(config.UpstreamConfig{
		BaseURL:           baseURL,
		ConnectTimeout:    time.Second,
		RequestTimeout:    5 * time.Second,
		KeepAliveInterval: keepAlive,
	})
}

func TestDispatchSendsGenerateContentRequest(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]}}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	contents := []genai.Content{genai.UserContent(genai.TextPart("a red circle"))}

	result := client.Dispatch(context.Background(), "gemini-3-pro-image-preview", contents, genai.ImageGenerationConfig(), "test-key", nil)

	require.NoError(t, result.TransportErr)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, "test-key", result.Key)
	assert.Equal(t, "/v1beta/models/gemini-3-pro-image-preview:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)

	assert.Contains(t, gotBody, "contents")
	genCfg, ok := gotBody["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "text/plain", genCfg["responseMimeType"])
}

func TestDispatchOmitsEmptyGenerationConfig(t *testing.T) {
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	client.Dispatch(context.Background(), "gemini-3-pro-preview", nil, nil, "test-key", nil)

	_, present := gotBody["generationConfig"]
	assert.False(t, present, "empty generationConfig must be omitted entirely")
}

func TestDispatchReportsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // refuse connections

	client := newTestClient(server.URL, 0)
	result := client.Dispatch(context.Background(), "gemini-3-pro-preview", nil, nil, "test-key", nil)

	assert.Error(t, result.TransportErr)
	assert.Zero(t, result.HTTPStatus)
}

func TestDispatchReportsUpstreamStatusAndPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"rate limit"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	result := client.Dispatch(context.Background(), "gemini-3-pro-preview", nil, nil, "test-key", nil)

	require.NoError(t, result.TransportErr)
	assert.Equal(t, http.StatusTooManyRequests, result.HTTPStatus)
	assert.Contains(t, string(result.Payload), "rate limit")
}

func TestDispatchFiresProgressDuringLongCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(80 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var ticks atomic.Int32
	client := newTestClient(server.URL, 10*time.Millisecond)

	result := client.Dispatch(context.Background(), "gemini-3-pro-preview", nil, nil, "test-key", func() {
		ticks.Add(1)
	})

	require.NoError(t, result.TransportErr)
	assert.Greater(t, ticks.Load(), int32(0), "progress should fire while the call is in flight")
}

func TestTransportTimedOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(config.UpstreamConfig{
		BaseURL:        server.URL,
		ConnectTimeout: time.Second,
		RequestTimeout: 20 * time.Millisecond,
	})

	result := client.Dispatch(context.Background(), "gemini-3-pro-preview", nil, nil, "test-key", nil)
	require.Error(t, result.TransportErr)
	assert.True(t, transportTimedOut(result.TransportErr))
}
