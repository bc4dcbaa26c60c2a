package tool

import (
	"encoding/json"
	"strings"
)

// QueryFromArgs extracts the search query from tool-call arguments.
// Accepted shapes are {"query": "..."}, a JSON string holding that object,
// and a bare JSON string. Anything else, or a blank query, yields fallback.
func QueryFromArgs(args json.RawMessage, fallback string) string {
	if q := queryFromObject(args); q != "" {
		return q
	}

	var s string
	if err := json.Unmarshal(args, &s); err == nil {
		s = strings.TrimSpace(s)
		if q := queryFromObject(json.RawMessage(s)); q != "" {
			return q
		}
		if s != "" && !strings.HasPrefix(s, "{") {
			return s
		}
	}
	return fallback
}

func queryFromObject(raw json.RawMessage) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	q, _ := obj["query"].(string)
	return strings.TrimSpace(q)
}
