package intent

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSONObject is returned when a completion contains no decodable JSON
// object.
var ErrNoJSONObject = errors.New("no JSON object in completion")

// maxExtractAttempts bounds how many '{' positions are tried before giving up.
const maxExtractAttempts = 32

// Payload is a decoded completion object, e.g. {"operations": [...]}.
// Numbers are kept as json.Number.
type Payload map[string]any

// Extract returns the first complete JSON object embedded in raw.
func Extract(raw string) (Payload, error) {
	_, payload, err := locateObject(raw)
	return payload, err
}

// locateObject tries each '{' in order and decodes exactly one JSON value from
// it. Text after the value is ignored, so prose or fences around the object
// do not matter, and braces inside string values cannot split it.
func locateObject(raw string) (string, Payload, error) {
	offset := 0
	for attempt := 0; attempt < maxExtractAttempts; attempt++ {
		i := strings.IndexByte(raw[offset:], '{')
		if i < 0 {
			break
		}
		start := offset + i

		decoder := json.NewDecoder(strings.NewReader(raw[start:]))
		decoder.UseNumber()
		var obj map[string]any
		if err := decoder.Decode(&obj); err == nil && obj != nil {
			end := start + int(decoder.InputOffset())
			return raw[start:end], Payload(obj), nil
		}
		offset = start + 1
	}
	return "", nil, ErrNoJSONObject
}
