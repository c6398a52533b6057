package logger

import (
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	// Phone numbers and account identifiers appear as long digit runs in
	// extracted order intents. Invoice numbers (INV-1003) stay readable.
	digitRunRegex = regexp.MustCompile(`\d{7,}`)
)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	val = emailRegex.ReplaceAllStringFunc(val, RedactEmail)
	if strings.Contains(key, "phone") || strings.Contains(key, "account") {
		val = digitRunRegex.ReplaceAllString(val, "*******")
	}
	return val
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
