// Package print provides the default runner: it writes a task's arguments
// and the outputs of its dependencies, then passes the arguments on as its
// own output.
package print

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Out receives the printed lines. Nil means os.Stdout.
	Out io.Writer

	mu sync.Mutex
}

// OnRunPrint is the handler for the 'print' runner.
func (m *Module) OnRunPrint(ctx context.Context, args map[string]any, upstream map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Printing input.", "arguments", len(args), "upstream", len(upstream))

	out := m.Out
	if out == nil {
		out = os.Stdout
	}

	// Lines of one task stay together when tasks print concurrently.
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(args) == 0 {
		fmt.Fprintln(out, "      (null)")
	}
	for _, k := range sortedKeys(args) {
		fmt.Fprintf(out, "      %s = %s\n", k, render(args[k]))
	}
	for _, k := range sortedKeys(upstream) {
		fmt.Fprintf(out, "      <- %s = %s\n", k, render(upstream[k]))
	}
	return args, nil
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("print", &registry.RegisteredRunner{
		Fn: m.OnRunPrint,
	})
}
