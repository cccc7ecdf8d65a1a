package msisdn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeNationalPrefixes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"leading zero length 10 rewrites to 33", "0612345678", "33612345678"},
		{"leading zero length 9 rewrites to 221", "077123456", "22177123456"},
		{"length 8 without known prefix gets 221", "77123456", "22177123456"},
		{"length 9 without known prefix gets 33", "612345678", "33612345678"},
		{"already prefixed 33 untouched", "33612345678", "33612345678"},
		{"already prefixed 221 untouched", "221771234567", "221771234567"},
		{"already prefixed 44 untouched", "447700900123", "447700900123"},
		{"plus sign stripped before rewriting", "+33612345678", "33612345678"},
		{"spaces and hyphens stripped", "06 12-34-56-78", "33612345678"},
		{"parentheses stripped", "(0)612345678", "33612345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeLengthInvariants(t *testing.T) {
	// All digit-only inputs of length 10 starting with 0 end up 33-prefixed with length 11.
	for _, in := range []string{"0123456789", "0612345678", "0999999999"} {
		out := Normalize(in)
		assert.Len(t, out, 11, in)
		assert.Equal(t, "33", out[:2], in)
	}
	// Length-9 leading-zero inputs map to 221-prefixed length-11 outputs.
	for _, in := range []string{"012345678", "077123456"} {
		out := Normalize(in)
		assert.Len(t, out, 11, in)
		assert.Equal(t, "221", out[:3], in)
	}
}

func TestNormalizeAlphanumericSenderPassthrough(t *testing.T) {
	for _, in := range []string{"WAXAL", "Promo33", "a1", "INFOBANK221"} {
		assert.Equal(t, in, Normalize(in), in)
	}
	// Pure digits of sender-id length still get digit rewriting.
	assert.Equal(t, "22177123456", Normalize("77123456"))
}

func TestIsAlphanumericSender(t *testing.T) {
	assert.True(t, IsAlphanumericSender("WAXAL"))
	assert.True(t, IsAlphanumericSender("Promo33"))
	assert.False(t, IsAlphanumericSender("77123456"), "digits only")
	assert.False(t, IsAlphanumericSender("X"), "too short")
	assert.False(t, IsAlphanumericSender("ABCDEFGHIJKL"), "too long")
	assert.False(t, IsAlphanumericSender("WAX AL"), "contains space")
	assert.False(t, IsAlphanumericSender(""))
}

func TestIsValidSender(t *testing.T) {
	assert.True(t, IsValidSender("WAXAL"))
	assert.True(t, IsValidSender("ABCDEFGHIJKLMNO"), "15 chars allowed")
	assert.False(t, IsValidSender("ABCDEFGHIJKLMNOP"), "16 chars rejected")
	assert.True(t, IsValidSender("33612345678"))
	assert.False(t, IsValidSender(""))
}

func TestIsValidRecipient(t *testing.T) {
	assert.True(t, IsValidRecipient("33612345678"))
	assert.False(t, IsValidRecipient(""))
	assert.False(t, IsValidRecipient("not-a-number"))
}
