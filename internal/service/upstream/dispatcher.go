package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hyunwoolee/gemini-relay/internal/config"
	"github.com/hyunwoolee/gemini-relay/internal/model/genai"
)

// ProgressFunc is invoked periodically while an upstream call is in flight
// so the caller can keep its own downstream connection alive. It runs on a
// separate goroutine and must be safe to call concurrently with the
// response being assembled.
type ProgressFunc func()

// AttemptResult captures the outcome of a single dispatch attempt. Exactly
// one of TransportErr or HTTPStatus/Payload is meaningful.
type AttemptResult struct {
	Payload      []byte
	HTTPStatus   int
	TransportErr error
	Key          string
}

// Dispatcher performs one generateContent attempt with a specific key.
type Dispatcher interface {
	Dispatch(ctx context.Context, model string, contents []genai.Content, genCfg map[string]any, key string, progress ProgressFunc) AttemptResult
}

// Client dispatches generateContent calls over HTTP. Image generation runs
// long, so the client splits the connect timeout from the total call
// timeout.
type Client struct {
	httpClient *http.Client
	baseURL    string
	keepAlive  time.Duration
}

// NewClient builds the HTTP dispatcher from upstream configuration.
func NewClient(cfg config.UpstreamConfig) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keepAlive: cfg.KeepAliveInterval,
	}
}

// Dispatch performs one attempt against models/{model}:generateContent.
// While the call is in flight, progress is invoked every keep-alive
// interval.
func (c *Client) Dispatch(ctx context.Context, model string, contents []genai.Content, genCfg map[string]any, key string, progress ProgressFunc) AttemptResult {
	body, err := json.Marshal(genai.GenerateRequest{Contents: contents, GenerationConfig: genCfg})
	if err != nil {
		return AttemptResult{TransportErr: fmt.Errorf("encode request body: %w", err), Key: key}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(model), url.QueryEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return AttemptResult{TransportErr: fmt.Errorf("build request: %w", err), Key: key}
	}
	req.Header.Set("Content-Type", "application/json")

	stop := c.startKeepAlive(progress)
	defer stop()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AttemptResult{TransportErr: err, Key: key}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return AttemptResult{TransportErr: fmt.Errorf("read response body: %w", err), Key: key}
	}

	return AttemptResult{Payload: payload, HTTPStatus: resp.StatusCode, Key: key}
}

// startKeepAlive fires progress on a ticker until the returned stop func is
// called. The callback owns the wire representation of the heartbeat; the
// dispatcher only guarantees the cadence.
func (c *Client) startKeepAlive(progress ProgressFunc) func() {
	if progress == nil || c.keepAlive <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				progress()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// transportTimedOut distinguishes a deadline expiry from other connection
// failures for terminal error reporting.
func transportTimedOut(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
