// Package http_request provides a runner that performs a single HTTP call.
//
// Server errors (5xx) fail the attempt so the workflow's retry policy
// applies; any other status is returned to downstream tasks as data.
package http_request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/registry"
)

// DefaultTimeout bounds a request when neither the task nor the module sets one.
const DefaultTimeout = 30 * time.Second

// Module implements the registry.Module interface for this package. One
// client is shared by every task so connections are reused.
type Module struct {
	Client *http.Client
}

// Input defines the arguments for the 'http_request' runner.
type Input struct {
	URL     string            `cty:"url" validate:"required,url"`
	Method  string            `cty:"method" validate:"oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`
	Headers map[string]string `cty:"headers"`
	Body    string            `cty:"body"`
	Timeout time.Duration     `cty:"timeout" validate:"gte=0"`
}

// ServerError is returned for responses with a 5xx status.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server responded with status %d", e.StatusCode)
}

// OnRunHttpRequest is the handler for the 'http_request' runner.
func (m *Module) OnRunHttpRequest(ctx context.Context, input *Input, upstream map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Making HTTP request.", "method", input.Method, "url", input.URL)

	if input.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, input.Timeout)
		defer cancel()
	}

	var body io.Reader
	if input.Body != "" {
		body = strings.NewReader(input.Body)
	}
	req, err := http.NewRequestWithContext(ctx, input.Method, input.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range input.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	logger.Info("Received HTTP response.", "status", resp.Status)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(bodyBytes),
	}, nil
}

func (m *Module) client() *http.Client {
	if m.Client != nil {
		return m.Client
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	if m.Client == nil {
		m.Client = &http.Client{Timeout: DefaultTimeout}
	}
	r.RegisterRunner("http_request", &registry.RegisteredRunner{
		NewInput: func() any { return &Input{Method: http.MethodGet} },
		Fn:       m.OnRunHttpRequest,
	})
}
