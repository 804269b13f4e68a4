package transport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Error is a failed exchange with the dialogue engine. Detail is the
// human-readable message shown to the user.
type Error struct {
	Op         string // "reset", "start", "submit", "fetch audio", "health"
	StatusCode int    // 0 when the request never completed
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("%s: engine returned status %d", e.Op, e.StatusCode)
}

// validationItem is one entry of a structured validation error body,
// e.g. {"detail":[{"loc":["file"],"msg":"invalid format"}]}.
type validationItem struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// extractDetail pulls a user-facing message out of an error response body.
// A structured detail list is flattened to "loc: msg" pairs; a plain detail
// string is used as-is; anything else falls back to the raw body text.
func extractDetail(body []byte) string {
	raw := strings.TrimSpace(string(body))

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return raw
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var items []validationItem
	if err := json.Unmarshal(envelope.Detail, &items); err == nil && len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			locs := make([]string, 0, len(it.Loc))
			for _, l := range it.Loc {
				locs = append(locs, fmt.Sprint(l))
			}
			if len(locs) > 0 {
				parts = append(parts, fmt.Sprintf("%s: %s", strings.Join(locs, "."), it.Msg))
			} else {
				parts = append(parts, it.Msg)
			}
		}
		return strings.Join(parts, ", ")
	}

	return raw
}
