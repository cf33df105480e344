package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/httpclient/sse"
)

// Request describes an outbound HTTP request.
type Request struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers map[string]string
	// Body is JSON-encoded unless it is nil, []byte or io.Reader.
	Body any
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// StreamResponse is an open text/event-stream response.
type StreamResponse struct {
	StatusCode int
	SSE        sse.Reader
}

// Close releases the stream.
func (r *StreamResponse) Close() error { return r.SSE.Close() }

// Client is a JSON HTTP client with AppError classification.
type Client struct {
	httpClient *http.Client
	stream     *http.Client
	config     Config
}

// New creates a client with its own transport.
func New(cfg Config) (*Client, error) {
	return NewWithHTTPClient(cfg, nil)
}

// NewWithHTTPClient creates a client over hc, or a cloned default
// transport when hc is nil. Tests pass httptest servers' clients.
func NewWithHTTPClient(cfg Config, hc *http.Client) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var transport http.RoundTripper
	if hc != nil && hc.Transport != nil {
		transport = hc.Transport
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		stream:     &http.Client{Transport: transport},
		config:     cfg,
	}, nil
}

// Service returns the configured remote name.
func (c *Client) Service() string { return c.config.Service }

// Do executes req and reads the whole body. Non-2xx responses return
// both the response and a classified error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransport(ctx, c.config.Service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyTransport(ctx, c.config.Service, fmt.Errorf("read response body: %w", err))
	}
	out := &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}
	return out, ClassifyStatus(c.config.Service, httpReq.URL.Path, resp.StatusCode, body)
}

// DoJSON executes req and decodes a 2xx body into out (when non-nil and
// the body is non-empty).
func (c *Client) DoJSON(ctx context.Context, req Request, out any) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if out != nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, errors.Downstream(c.config.Service, fmt.Errorf("decode response: %w", err))
		}
	}
	return resp, nil
}

// Stream opens a Server-Sent Events stream. The stream lives until ctx is
// cancelled or the server closes it.
func (c *Client) Stream(ctx context.Context, req Request) (*StreamResponse, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransport(ctx, c.config.Service, err)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, ClassifyStatus(c.config.Service, httpReq.URL.Path, resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		return nil, errors.Downstream(c.config.Service, fmt.Errorf("unexpected content type %q", ct))
	}
	return &StreamResponse{StatusCode: resp.StatusCode, SSE: sse.NewReader(resp.Body)}, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	target := req.Path
	if c.config.BaseURL != "" && !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(target, "/")
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, errors.InvalidInput("body", err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, errors.InvalidInput("url", err.Error())
	}
	if len(req.Query) > 0 {
		q := url.Values{}
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case io.Reader:
		return v, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}
