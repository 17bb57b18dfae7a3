package intent

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/dunamismax/pixelprompt/internal/domain"
)

// FallbackPayload is returned by Query whenever the completion service
// cannot be reached or answers with an error.
const FallbackPayload = `{"operations": [{"type": "none"}]}`

// Completer is a text-completion backend: one prompt in, one whole response
// out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Decoder turns a natural-language instruction into operations.
type Decoder struct {
	completer Completer
	logger    logrus.FieldLogger
}

func NewDecoder(completer Completer, logger logrus.FieldLogger) *Decoder {
	return &Decoder{
		completer: completer,
		logger:    logger,
	}
}

// Query asks the completion service for an operations payload and returns it
// as JSON text. Service failures are not returned: the caller gets
// FallbackPayload instead. When the completion holds no JSON object the raw
// text is returned as-is.
func (d *Decoder) Query(ctx context.Context, instruction, history string) string {
	if d.completer == nil {
		d.logger.Warn("no completion backend configured")
		return FallbackPayload
	}

	raw, err := d.completer.Complete(ctx, buildEditorPrompt(instruction, history))
	if err != nil {
		d.logger.WithError(err).Error("completion request failed")
		return FallbackPayload
	}
	d.logger.WithField("raw", raw).Debug("completion received")

	text, _, err := locateObject(raw)
	if err != nil {
		return raw
	}
	return text
}

// Decode runs Query and normalizes the result. A completion that does not
// parse yields an empty list, which leaves the image untouched.
func (d *Decoder) Decode(ctx context.Context, instruction, history string) []domain.Operation {
	payload, err := Extract(d.Query(ctx, instruction, history))
	if err != nil {
		if errors.Is(err, ErrNoJSONObject) {
			d.logger.Warn("no valid JSON found in completion")
		}
		return nil
	}

	ops := Normalize(payload)
	d.logger.WithField("operations", domain.Records(ops)).Info("operations decoded")
	return ops
}
