package intent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/dunamismax/pixelprompt/internal/domain"
	"github.com/dunamismax/pixelprompt/internal/logging"
)

type stubCompleter struct {
	response string
	err      error
	prompt   string
}

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.response, s.err
}

func TestQueryReturnsFallbackOnCompletionError(t *testing.T) {
	decoder := NewDecoder(&stubCompleter{err: errors.New("connection refused")}, logging.Discard())

	got := decoder.Query(context.Background(), "blur it", "")
	if got != `{"operations": [{"type": "none"}]}` {
		t.Fatalf("expected fallback payload, got %q", got)
	}
}

func TestQueryWithoutCompleterFallsBack(t *testing.T) {
	decoder := NewDecoder(nil, logging.Discard())
	if got := decoder.Query(context.Background(), "blur it", ""); got != FallbackPayload {
		t.Fatalf("expected fallback payload, got %q", got)
	}
}

func TestQueryExtractsObjectFromProse(t *testing.T) {
	stub := &stubCompleter{response: "Sure! Here you go:\n{\"operations\": [{\"type\": \"grayscale\"}]}\nHope that helps."}
	decoder := NewDecoder(stub, logging.Discard())

	got := decoder.Query(context.Background(), "make it black and white", `{"operations":[{"type":"blur"}]}`)
	if got != `{"operations": [{"type": "grayscale"}]}` {
		t.Fatalf("unexpected payload %q", got)
	}
	if !strings.Contains(stub.prompt, "'make it black and white'") {
		t.Fatal("expected the instruction to be quoted in the prompt")
	}
	if !strings.Contains(stub.prompt, `Already applied operations:`+"\n"+`{"operations":[{"type":"blur"}]}`) {
		t.Fatal("expected history to be embedded in the prompt")
	}
}

func TestQueryRendersEmptyHistoryAsObject(t *testing.T) {
	stub := &stubCompleter{response: "{}"}
	decoder := NewDecoder(stub, logging.Discard())

	decoder.Query(context.Background(), "sharpen", "  ")
	if !strings.Contains(stub.prompt, "Already applied operations:\n{}\n") {
		t.Fatalf("expected empty history to render as {}, prompt was:\n%s", stub.prompt)
	}
}

func TestDecodeFlipVerticallyAndPencilSketch(t *testing.T) {
	stub := &stubCompleter{response: `Output: {"operations": [{"type": "flip", "direction": "vertical"}, {"type": "pencil_sketch"}]}`}
	decoder := NewDecoder(stub, logging.Discard())

	got := decoder.Decode(context.Background(), "Flip vertically and apply pencil sketch", "")
	want := []domain.Operation{
		domain.Flip{Direction: domain.FlipVertical},
		domain.PencilSketch{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
}

func TestDecodeFallbackYieldsNoneOperation(t *testing.T) {
	decoder := NewDecoder(&stubCompleter{err: errors.New("503")}, logging.Discard())

	got := decoder.Decode(context.Background(), "anything", "")
	if len(got) != 1 || got[0] != (domain.None{}) {
		t.Fatalf("expected a single none operation, got %#v", got)
	}
}

func TestDecodeUnparseableCompletionIsEmpty(t *testing.T) {
	decoder := NewDecoder(&stubCompleter{response: "I cannot help with that."}, logging.Discard())

	if got := decoder.Decode(context.Background(), "anything", ""); len(got) != 0 {
		t.Fatalf("expected no operations, got %#v", got)
	}
}
