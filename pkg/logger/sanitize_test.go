package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GEZDGNBVGY3TQOJQ", "GE*************Q"},
		{"abcde", "ab**e"},
		{"abcd", "[REDACTED]"},
		{"", "[REDACTED]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskSecret(tt.in), "input %q", tt.in)
	}
}

func TestRedactedAttr(t *testing.T) {
	attr := RedactedAttr("password", "hunter2", "production")
	assert.Equal(t, "[REDACTED]", attr.Value.String())

	attr = RedactedAttr("password", "hunter2", "development")
	assert.Equal(t, "hunter2", attr.Value.String())
}

func TestSanitizeQueryString(t *testing.T) {
	sensitive := []string{
		"secret=GEZDGNBVGY3TQOJQ",
		"code=123456",
		"TOKEN=abc",
		"api_key=xyz",
		"user=me&password=pw",
	}
	for _, q := range sensitive {
		assert.True(t, SanitizeQueryString(q), "query %q", q)
	}

	benign := []string{
		"",
		"page=2&limit=50",
		"service=rippling",
	}
	for _, q := range benign {
		assert.False(t, SanitizeQueryString(q), "query %q", q)
	}
}
