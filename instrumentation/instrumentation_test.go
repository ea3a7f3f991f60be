package instrumentation

import (
	"context"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Metrics() == nil {
		t.Error("Metrics() should not be nil")
	}
	if inst.Tracer("http") == nil {
		t.Error("Tracer() should not be nil")
	}
	if inst.Meter("server") == nil {
		t.Error("Meter() should not be nil")
	}
}

func TestMetrics_RecordDoesNotPanic(t *testing.T) {
	inst, err := New(Config{ServiceName: "test", Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	m := inst.Metrics()

	m.RecordHTTPRequest(ctx, "GET", "authorize", 200, 1.5)
	m.RecordAuthorizationDecision(ctx, "client-1", true)
	m.RecordTokenIssued(ctx, "client-1")
	m.RecordTokenVerification(ctx, "valid")
	m.RecordTokenRevocation(ctx, "client-1")
	m.RecordClientRegistration(ctx, "confidential")
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordStorageOperation(ctx, "insert_token", "success", 0.2)
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}
