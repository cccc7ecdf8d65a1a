// Package msisdn normalizes raw recipient input into carrier-acceptable
// addresses. The prefix table encodes the operator's default-country
// assumptions; changing it silently changes routing behavior.
package msisdn

import (
	"regexp"
	"strings"
)

var (
	alphanumericRe = regexp.MustCompile(`^[A-Za-z0-9]{2,11}$`)
	alnumRe        = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	letterRe       = regexp.MustCompile(`[A-Za-z]`)
	digitsRe       = regexp.MustCompile(`^[0-9]+$`)
)

// Country codes that pass through unprefixed.
var knownPrefixes = []string{"33", "221", "1", "44", "49", "39"}

const (
	senderIDMinLen = 2
	senderIDMaxLen = 15
)

// IsAlphanumericSender reports whether the raw value is an alphanumeric
// sender id: 2-11 characters of letters and digits with at least one letter.
// The check runs against the original value, before any stripping.
func IsAlphanumericSender(raw string) bool {
	return alphanumericRe.MatchString(raw) && letterRe.MatchString(raw)
}

// Normalize converts a raw recipient into a carrier-acceptable address.
// Alphanumeric sender ids pass through unchanged; digit strings get the
// operator's national-prefix rewriting applied.
func Normalize(raw string) string {
	if IsAlphanumericSender(raw) {
		return raw
	}

	n := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "").Replace(raw)
	if !digitsRe.MatchString(n) {
		return n
	}

	if strings.HasPrefix(n, "0") {
		switch len(n) {
		case 10:
			return "33" + n[1:]
		case 9:
			return "221" + n[1:]
		}
		return n
	}

	for _, p := range knownPrefixes {
		if strings.HasPrefix(n, p) {
			return n
		}
	}
	switch len(n) {
	case 8:
		return "221" + n
	case 9:
		return "33" + n
	}
	return n
}

// IsValidSender reports whether a value is acceptable as a source address:
// alphanumeric sender ids of length 2-15, or a non-empty digit string.
func IsValidSender(s string) bool {
	if s == "" {
		return false
	}
	if letterRe.MatchString(s) {
		return len(s) >= senderIDMinLen && len(s) <= senderIDMaxLen && alnumRe.MatchString(s)
	}
	return digitsRe.MatchString(Normalize(s))
}

// IsValidRecipient reports whether a normalized destination is addressable.
func IsValidRecipient(s string) bool {
	return s != "" && digitsRe.MatchString(s)
}
