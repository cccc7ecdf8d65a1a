// Package dlr holds small parsing helpers for delivery-receipt payloads.
package dlr

import (
	"strings"
	"unicode"
)

const errToken = "err:"

// Token extracts the value following the first occurrence of key in a raw
// receipt body, reading up to the next whitespace. Returns "" when absent.
func Token(body, key string) string {
	idx := strings.Index(body, key)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(key):]
	end := strings.IndexFunc(rest, unicode.IsSpace)
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// ErrorCode extracts the carrier error token from a raw receipt body by
// locating the first "err:" substring and reading up to the next whitespace.
// Returns "" when the token is absent.
//
// This is a format-coupled heuristic kept for compatibility with the carrier's
// text receipts; prefer the structured receipt fields when they parse.
func ErrorCode(body string) string {
	return Token(body, errToken)
}

// MessageID extracts the "id:" token from a raw receipt body.
func MessageID(body string) string {
	return Token(body, "id:")
}

// Stat extracts the "stat:" token from a raw receipt body.
func Stat(body string) string {
	return Token(body, "stat:")
}

// FirstID normalizes the receipt-id field, which the underlying protocol
// binding delivers either as a single value or as a list. The first element
// wins; an empty input yields "".
func FirstID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case []string:
		if len(id) > 0 {
			return id[0]
		}
	case []any:
		if len(id) > 0 {
			if s, ok := id[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
