package domain

import "encoding/json"

// History is the wire form of the operations already applied to an image,
// as sent to the intent decoder.
type History struct {
	Operations []OperationRecord `json:"operations"`
}

// ParseHistory reads a history string. Empty or unreadable input yields an
// empty history.
func ParseHistory(raw string) History {
	var h History
	if raw == "" {
		return h
	}
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return History{}
	}
	return h
}

// AppendHistory extends raw with ops and re-encodes it. An empty result is
// rendered as "" so the decoder substitutes its own empty marker.
func AppendHistory(raw string, ops []OperationRecord) string {
	h := ParseHistory(raw)
	h.Operations = append(h.Operations, ops...)
	if len(h.Operations) == 0 {
		return ""
	}
	data, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(data)
}
