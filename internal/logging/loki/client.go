package loki

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/xente/loki-logger-handler/internal/logging"
)

const (
	contentTypeJSON = "application/json"
	encodingGzip    = "gzip"
	maxErrorBody    = 4 << 10
)

var _ logging.LogSender = (*Client)(nil)

type ClientConfig struct {
	// URL is the full push endpoint, e.g. http://loki:3100/loki/api/v1/push.
	URL        string
	Headers    map[string]string
	Username   string
	Password   string
	Compressed bool
	Timeout    time.Duration
	HTTPClient *http.Client

	Stream   Options
	Metadata logging.Metadata
}

// Client turns drained entries into a push request and delivers it in a
// single attempt.
type Client struct {
	url        string
	headers    map[string]string
	username   string
	password   string
	compressed bool
	httpClient *http.Client
	stream     Options
	metadata   logging.Metadata
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Client{
		url:        cfg.URL,
		headers:    headers,
		username:   cfg.Username,
		password:   cfg.Password,
		compressed: cfg.Compressed,
		httpClient: httpClient,
		stream:     cfg.Stream,
		metadata:   cfg.Metadata,
	}
}

// SendBatch groups entries into streams, serializes them and sends the
// result. An empty batch makes no request. Entries that could not be
// rendered are reported together with any delivery error.
func (c *Client) SendBatch(ctx context.Context, entries []logging.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	payload, buildErr := BuildPayload(entries, c.metadata, c.stream)
	if payload.Empty() {
		return buildErr
	}

	body, err := payload.Serialize()
	if err != nil {
		return errors.Join(buildErr, err)
	}

	return errors.Join(buildErr, c.Send(ctx, body))
}

// Send posts an already serialized payload, gzip-compressing it when
// configured. Any non-2xx response is a *logging.TransportError.
func (c *Client) Send(ctx context.Context, body []byte) error {
	if c.compressed {
		compressed, err := Compress(body)
		if err != nil {
			return &logging.TransportError{URL: c.url, Err: err}
		}
		body = compressed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &logging.TransportError{URL: c.url, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	if c.compressed {
		req.Header.Set("Content-Encoding", encodingGzip)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &logging.TransportError{URL: c.url, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &logging.TransportError{
			StatusCode: resp.StatusCode,
			Body:       string(responseBody),
			URL:        resp.Request.URL.String(),
			Err:        fmt.Errorf("loki returned status %d", resp.StatusCode),
		}
	}

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Compress gzip-encodes body.
func Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	return buf.Bytes(), nil
}
