package domain

import "testing"

func TestAppendHistory(t *testing.T) {
	first := AppendHistory("", []OperationRecord{{Type: "flip", Direction: "vertical"}})
	if first != `{"operations":[{"type":"flip","direction":"vertical"}]}` {
		t.Fatalf("unexpected history %s", first)
	}

	second := AppendHistory(first, []OperationRecord{{Type: "negative"}})
	h := ParseHistory(second)
	if len(h.Operations) != 2 || h.Operations[1].Type != "negative" {
		t.Fatalf("expected appended history, got %+v", h)
	}

	if got := AppendHistory("", nil); got != "" {
		t.Fatalf("expected empty history to stay empty, got %q", got)
	}
	if got := AppendHistory("not json", []OperationRecord{{Type: "blur"}}); got != `{"operations":[{"type":"blur"}]}` {
		t.Fatalf("expected unreadable history to restart, got %s", got)
	}
}
