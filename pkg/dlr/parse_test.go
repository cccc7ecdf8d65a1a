package dlr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"standard receipt body", "id:abc123 sub:001 dlvrd:000 stat:UNDELIV err:069 text:hello", "069"},
		{"token at end of body", "id:abc123 stat:UNDELIV err:069", "069"},
		{"token absent", "id:abc123 stat:DELIVRD text:hello", ""},
		{"empty body", "", ""},
		{"first occurrence wins", "err:001 err:002", "001"},
		{"stops at tab", "err:042\tstat:UNDELIV", "042"},
		{"empty token value", "err: stat:UNDELIV", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.body))
		})
	}
}

func TestTokenFields(t *testing.T) {
	body := "id:0a1b2c sub:001 dlvrd:001 submit date:2405131200 done date:2405131201 stat:DELIVRD err:000 text:hi"
	assert.Equal(t, "0a1b2c", MessageID(body))
	assert.Equal(t, "DELIVRD", Stat(body))
	assert.Equal(t, "000", ErrorCode(body))
}

func TestFirstID(t *testing.T) {
	assert.Equal(t, "abc", FirstID("abc"))
	assert.Equal(t, "abc", FirstID([]string{"abc", "def"}))
	assert.Equal(t, "abc", FirstID([]any{"abc", "def"}))
	assert.Equal(t, "", FirstID([]string{}))
	assert.Equal(t, "", FirstID(nil))
	assert.Equal(t, "", FirstID(42))
}
