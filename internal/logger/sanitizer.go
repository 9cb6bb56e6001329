package logger

import (
	"log/slog"
	"regexp"
	"strings"
)

// messageRules mask credentials embedded in free-form messages.
// Paths are left intact since they are the subject of most log lines.
var messageRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)password=\S+`), "password=***"},
	{regexp.MustCompile(`(?i)passwd=\S+`), "passwd=***"},
	{regexp.MustCompile(`(?i)token=\S+`), "token=***"},
	{regexp.MustCompile(`(?i)bearer\s+\S+`), "bearer ***"},
	{regexp.MustCompile(`(?i)api[_-]?key=\S+`), "api_key=***"},
}

// SanitizeMessage masks credentials in a log message
func SanitizeMessage(msg string) string {
	for _, rule := range messageRules {
		msg = rule.pattern.ReplaceAllString(msg, rule.replacement)
	}
	return msg
}

var sensitiveKeys = []string{
	"password", "passwd",
	"token", "secret", "api_key", "apikey",
	"credential",
}

func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(lowerKey, sk) {
			return true
		}
	}
	return false
}

// maskAttr is the handlers' ReplaceAttr: values under sensitive keys are masked
func maskAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup || !isSensitiveKey(a.Key) {
		return a
	}
	return slog.String(a.Key, maskValue(a.Value.Resolve().String()))
}

// maskValue keeps at most the first and last character
func maskValue(value string) string {
	switch {
	case len(value) <= 2:
		return "***"
	case len(value) <= 8:
		return value[:1] + "***"
	default:
		return value[:1] + "***" + value[len(value)-1:]
	}
}
