package invoke

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/registry"
)

// HTTPRequest is a JSON request to a path on the picked instance.
type HTTPRequest struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    any
}

// HTTPResponse is a successful response.
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into out.
func (r *HTTPResponse) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return errors.InvalidInput("body", "malformed JSON response").WithCause(err)
	}
	return nil
}

// HTTPTransport issues requests to http://host:port/path. An instance
// whose metadata sets scheme=https is called over TLS. 404 maps to
// NOT_FOUND; 5xx and connection errors map to DOWNSTREAM_ERROR.
type HTTPTransport struct {
	hc      *http.Client
	headers map[string]string

	mu      sync.Mutex
	clients map[string]*httpclient.Client
}

// NewHTTPTransport creates a transport over hc, or a default transport
// when hc is nil. headers are sent with every request.
func NewHTTPTransport(hc *http.Client, headers map[string]string) *HTTPTransport {
	return &HTTPTransport{hc: hc, headers: headers, clients: make(map[string]*httpclient.Client)}
}

func (t *HTTPTransport) Do(ctx context.Context, inst registry.Instance, req HTTPRequest) (*HTTPResponse, error) {
	client, err := t.client(inst.ServiceName)
	if err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	scheme := "http"
	if inst.Metadata["scheme"] == "https" {
		scheme = "https"
	}
	resp, err := client.Do(ctx, httpclient.Request{
		Method:  method,
		Path:    scheme + "://" + inst.Addr() + "/" + strings.TrimLeft(req.Path, "/"),
		Query:   req.Query,
		Headers: req.Headers,
		Body:    req.Body,
	})
	if err != nil {
		return nil, err
	}
	return &HTTPResponse{StatusCode: resp.StatusCode, Headers: resp.Headers, Body: resp.Body}, nil
}

// client returns one httpclient per service so errors name the callee.
func (t *HTTPTransport) client(service string) (*httpclient.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[service]; ok {
		return c, nil
	}
	c, err := httpclient.NewWithHTTPClient(httpclient.Config{Service: service, Headers: t.headers}, t.hc)
	if err != nil {
		return nil, err
	}
	t.clients[service] = c
	return c, nil
}

var _ Transport[HTTPRequest, *HTTPResponse] = (*HTTPTransport)(nil)
