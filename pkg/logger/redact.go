package logger

import "strings"

const redacted = "[redacted]"

// Field names whose values never reach a log line. Account numbers keep their
// last four digits so support can still match a payout to a bank statement.
var secretFields = []string{"password", "secret", "otp", "authorization", "token", "api_key"}

func redact(key string, value any) any {
	k := strings.ToLower(key)
	if strings.Contains(k, "account_number") {
		if s, ok := value.(string); ok {
			return maskAccount(s)
		}
		return redacted
	}
	for _, marker := range secretFields {
		if strings.Contains(k, marker) {
			return redacted
		}
	}
	return value
}

func maskAccount(number string) string {
	number = strings.TrimSpace(number)
	if len(number) <= 4 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
