package instance

import "testing"

func TestIDPrefersExplicitInstance(t *testing.T) {
	t.Setenv("DYNO", "web.1")
	t.Setenv("TRADELINE_INSTANCE_ID", "api-blue")
	if got := ID(); got != "api-blue" {
		t.Fatalf("ID() = %q, want api-blue", got)
	}
}

func TestIDFallsBackToDyno(t *testing.T) {
	t.Setenv("TRADELINE_INSTANCE_ID", "")
	t.Setenv("DYNO", "worker.2")
	if got := ID(); got != "worker.2" {
		t.Fatalf("ID() = %q, want worker.2", got)
	}
}

func TestIDNeverEmpty(t *testing.T) {
	t.Setenv("TRADELINE_INSTANCE_ID", "")
	t.Setenv("DYNO", "")
	if ID() == "" {
		t.Fatal("expected a hostname or local fallback")
	}
}
