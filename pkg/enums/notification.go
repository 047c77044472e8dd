package enums

import "slices"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypePaymentReceived NotificationType = "payment_received"
	NotificationTypeSaleInEscrow    NotificationType = "sale_in_escrow"
	NotificationTypePayoutCompleted NotificationType = "payout_completed"
	NotificationTypePayoutDeferred  NotificationType = "payout_deferred"
	NotificationTypePayoutFailed    NotificationType = "payout_failed"
	NotificationTypeRefundApproved  NotificationType = "refund_approved"
	NotificationTypeRefundRejected  NotificationType = "refund_rejected"
	NotificationTypePaymentExpired  NotificationType = "payment_expired"
)

var validNotificationTypes = []NotificationType{
	NotificationTypePaymentReceived,
	NotificationTypeSaleInEscrow,
	NotificationTypePayoutCompleted,
	NotificationTypePayoutDeferred,
	NotificationTypePayoutFailed,
	NotificationTypeRefundApproved,
	NotificationTypeRefundRejected,
	NotificationTypePaymentExpired,
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	return slices.Contains(validNotificationTypes, n)
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	return parse("notification type", value, validNotificationTypes)
}
