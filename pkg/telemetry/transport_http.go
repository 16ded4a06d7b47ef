package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTransport posts a batch as a binary envelope to a fixed endpoint
// as a binary envelope. Authentication is header-based and optional.
type HTTPTransport struct {
	client   *http.Client
	endpoint string
	headers  map[string]string
}

// NewHTTPTransport constructs an HTTPTransport posting to endpoint. The
// provided headers (e.g. from --otlp-headers "k=v,...") are
// attached to every request.
func NewHTTPTransport(endpoint string, headers map[string]string) *HTTPTransport {
	return &HTTPTransport{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
		headers:  headers,
	}
}

// Send implements Transport. A non-2xx response is treated as a
// transient, retryable failure.
func (t *HTTPTransport) Send(ctx context.Context, batch []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(batch))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/vnd.renacer.decisions+binary")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry: http transport got status %d", resp.StatusCode)
	}
	return nil
}
