package telemetry

import (
	"context"
	"testing"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "ooui-test", "  ")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestTracerStartsSpans(t *testing.T) {
	_, span := Tracer("session").Start(context.Background(), "flush")
	defer span.End()
	if span == nil {
		t.Fatal("nil span")
	}
}
