package redis

import "strings"

// Every key lives under "tl:<kind>:..." so one Redis can be shared with
// other services and flushed per kind.
const keyNamespace = "tl"

const (
	kindIdempotency  = "idempotency"
	kindRateLimit    = "rate_limit"
	kindWebhook      = "webhook"
	kindInteraction  = "interaction"
	kindRevokedToken = "revoked_token"
	kindLock         = "lock"
	kindReport       = "report"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(kindIdempotency, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(kindRateLimit, scope)
}

// WebhookEventKey marks a gateway delivery as seen.
func (c *Client) WebhookEventKey(provider, eventID string) string {
	return buildKey(kindWebhook, provider, eventID)
}

// InteractionKey addresses the rolling badge counter for a user.
func (c *Client) InteractionKey(subjectID, interactionType string) string {
	return buildKey(kindInteraction, subjectID, interactionType)
}

func (c *Client) RevokedTokenKey(tokenID string) string {
	return buildKey(kindRevokedToken, tokenID)
}

func (c *Client) LockKey(name string) string {
	return buildKey(kindLock, name)
}

// ReportKey addresses a cached dashboard report.
func (c *Client) ReportKey(name string, parts ...string) string {
	return buildKey(kindReport, append([]string{name}, parts...)...)
}

// buildKey joins the trimmed non-empty parts under the namespace.
func buildKey(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
