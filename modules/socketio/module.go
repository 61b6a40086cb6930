// Package socketio provides a runner that hands work to a remote worker over
// Socket.IO: it connects, emits one event and returns the payload of the
// first reply event.
package socketio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/registry"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultTimeout bounds the whole exchange when the task does not set one.
const DefaultTimeout = 10 * time.Second

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the socketio runner.
type Input struct {
	URL                string         `cty:"url" validate:"required,url"`
	Namespace          string         `cty:"namespace"`
	OnEvent            string         `cty:"on_event" validate:"required"`
	EmitEvent          string         `cty:"emit_event"`
	EmitData           map[string]any `cty:"emit_data"`
	Timeout            time.Duration  `cty:"timeout" validate:"gte=0"`
	InsecureSkipVerify bool           `cty:"insecure_skip_verify"`
}

// Output defines the data structure returned by the runner.
type Output struct {
	ResponseData any `json:"response_data"`
}

// opResult is a private struct to safely pass results through the done channel.
type opResult struct {
	value *Output
	err   error
}

// OnRunSocketIO is the handler for the 'socketio' runner.
func OnRunSocketIO(ctx context.Context, input *Input, upstream map[string]any) (*Output, error) {
	logger := ctxlog.FromContext(ctx).With("runner", "socketio", "url", input.URL, "onEvent", input.OnEvent, "emitEvent", input.EmitEvent)
	logger.Debug("Handler started")
	defer logger.Debug("Handler finished")

	var isConnected atomic.Bool

	timeout := input.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	done := make(chan opResult, 1)
	finish := func(res opResult) {
		select {
		case done <- res:
		default:
		}
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parsedURL, err := url.Parse(input.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)

	if input.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	namespace := input.Namespace
	if namespace == "" {
		namespace = "/"
	}
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)
	defer func() {
		logger.Debug("Disconnecting socket client")
		io.Disconnect()
	}()

	// Each attempt sees the outputs of its dependencies alongside the data.
	emitData := make(map[string]any, len(input.EmitData)+1)
	for k, v := range input.EmitData {
		emitData[k] = v
	}
	if len(upstream) > 0 {
		emitData["upstream"] = upstream
	}

	io.On(types.EventName("connect"), func(...any) {
		isConnected.Store(true)
		logger.Info("Successfully connected", "namespace", namespace, "sid", io.Id())
		if input.EmitEvent != "" {
			jsonData, _ := json.Marshal(emitData)
			logger.Info("Emitting event", "event", input.EmitEvent, "data", string(jsonData))
			io.Emit(input.EmitEvent, emitData)
		}
	})

	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connection failed")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = fmt.Errorf("connection failed: %w", e)
			}
		}
		finish(opResult{err: err})
	})

	io.On(types.EventName(input.OnEvent), func(data ...any) {
		var responseData any
		if len(data) > 0 {
			responseData = data[0]
		}
		finish(opResult{value: &Output{ResponseData: responseData}})
	})

	io.Connect()

	select {
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isConnected.Load() {
			return nil, fmt.Errorf("timed out after connecting while waiting for event '%s'", input.OnEvent)
		}
		return nil, fmt.Errorf("timed out while waiting for initial connection")
	case res := <-done:
		return res.value, res.err
	}
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("socketio", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunSocketIO,
	})
}
