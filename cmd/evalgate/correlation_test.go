package main

import (
	"testing"
)

func TestCorrelationIDHelpers(t *testing.T) {
	idA := newCorrelationID([]string{"evalgate", "validate", "--catalog", "a.yaml", "--json"})
	idB := newCorrelationID([]string{"evalgate", "validate", "--catalog", "a.yaml", "--json"})
	idC := newCorrelationID([]string{"evalgate", "validate", "--catalog", "b.yaml", "--json"})
	if len(idA) != 24 {
		t.Fatalf("unexpected correlation id length: %s", idA)
	}
	if idA != idB {
		t.Fatalf("expected deterministic correlation ids for same input")
	}
	if idA == idC {
		t.Fatalf("expected different correlation ids for different inputs")
	}
	if got := newCorrelationID(nil); len(got) != 24 {
		t.Fatalf("empty invocation correlation id length: %s", got)
	}
	setCurrentCorrelationID(" cid ")
	if got := currentCorrelationID(); got != "cid" {
		t.Fatalf("unexpected current correlation id: %q", got)
	}
	setCurrentCorrelationID("")
}

func TestCorrelationIDEnvOverride(t *testing.T) {
	t.Setenv("EVALGATE_CORRELATION_ID", "run-4711")
	if got := newCorrelationID([]string{"evalgate", "version"}); got != "run-4711" {
		t.Fatalf("expected env override to win, got %q", got)
	}
	t.Setenv("EVALGATE_CORRELATION_ID", "   ")
	if got := newCorrelationID([]string{"evalgate", "version"}); len(got) != 24 {
		t.Fatalf("blank override should fall back to derived id, got %q", got)
	}
}
