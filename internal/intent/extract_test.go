package intent

import (
	"errors"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantErr bool
	}{
		{name: "bare object", raw: `{"operations": []}`, wantKey: "operations"},
		{name: "fenced", raw: "```json\n{\"operation\": \"blur\"}\n```", wantKey: "operation"},
		{name: "brace inside string", raw: `{"operations": [{"type": "blur", "note": "a } brace"}]} trailing }`, wantKey: "operations"},
		{name: "truncated first object recovers inner", raw: `{"operations": [{"type": "blur"}`, wantKey: "type"},
		{name: "no braces", raw: "nothing to see", wantErr: true},
		{name: "only garbage braces", raw: "{ not json } {also not}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Extract(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSONObject) {
					t.Fatalf("expected ErrNoJSONObject, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if _, ok := payload[tt.wantKey]; !ok {
				t.Fatalf("expected key %q in %v", tt.wantKey, payload)
			}
		})
	}
}

func TestLocateObjectKeepsOriginalText(t *testing.T) {
	text, _, err := locateObject(`Output: {"operations": [{"type": "negative"}]} done`)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if text != `{"operations": [{"type": "negative"}]}` {
		t.Fatalf("unexpected text %q", text)
	}
}
