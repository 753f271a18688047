// Package logger holds log-sanitization helpers shared across the tool.
// MFA secrets and site credentials must never reach the log stream intact.
package logger

import (
	"log/slog"
	"strings"
)

// MaskSecret shortens a secret for diagnostics, keeping just enough to tell
// two secrets apart (e.g. "GE…Q" for a base32 key).
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return "[REDACTED]"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-3) + secret[len(secret)-1:]
}

// RedactedAttr returns a redacted slog attribute for sensitive values.
// Development builds log the real value to ease debugging.
func RedactedAttr(key, value, env string) slog.Attr {
	if env != "development" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString reports whether a query string contains sensitive
// parameters and should be redacted wholesale.
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"secret",
		"code",
		"token",
		"password",
		"passphrase",
		"api_key",
		"apikey",
		"auth",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
