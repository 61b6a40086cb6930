package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
)

// LogsEnabled reports whether tests should print captured log output.
// Set BURSTFLOW_TEST_LOGS=true to turn it on.
func LogsEnabled() bool {
	return os.Getenv("BURSTFLOW_TEST_LOGS") == "true"
}

// Context returns a context carrying a debug logger that writes into a
// SafeBuffer. The buffer is dumped to the test log on cleanup when
// LogsEnabled is true.
func Context(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()

	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() {
		if LogsEnabled() {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
	return ctxlog.WithLogger(context.Background(), logger), buf
}

// Logger returns the logger of a fresh Context for code that takes a
// *slog.Logger directly.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()
	ctx, _ := Context(t)
	return ctxlog.FromContext(ctx)
}
