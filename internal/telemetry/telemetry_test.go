package telemetry

import (
	"context"
	"os"
	"testing"
)

func TestEnabledDefaultsOff(t *testing.T) {
	old := os.Getenv("TRELLIS_OTEL_ENABLED")
	_ = os.Unsetenv("TRELLIS_OTEL_ENABLED")
	defer os.Setenv("TRELLIS_OTEL_ENABLED", old)

	if Enabled() {
		t.Error("Enabled() = true with TRELLIS_OTEL_ENABLED unset")
	}
}

func TestInitDisabledInstallsNoops(t *testing.T) {
	old := os.Getenv("TRELLIS_OTEL_ENABLED")
	_ = os.Unsetenv("TRELLIS_OTEL_ENABLED")
	defer os.Setenv("TRELLIS_OTEL_ENABLED", old)

	if err := Init(context.Background(), "tl-test", "dev"); err != nil {
		t.Fatalf("Init() returned error: %v", err)
	}
	if len(shutdownFns) != 0 {
		t.Errorf("disabled Init registered %d shutdown fns, want 0", len(shutdownFns))
	}

	// Instruments built against the no-op providers must still work.
	m := Meter("")
	c, err := m.Int64Counter("trellis.test.counter")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	c.Add(context.Background(), 1)

	_, span := Tracer("").Start(context.Background(), "noop")
	span.End()

	Shutdown(context.Background())
}
