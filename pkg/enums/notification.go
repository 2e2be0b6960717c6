package enums

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOutbid         NotificationType = "outbid"
	NotificationTypeAuctionWon     NotificationType = "auction_won"
	NotificationTypeListingSold    NotificationType = "listing_sold"
	NotificationTypeListingExpired NotificationType = "listing_expired"
	NotificationTypeButtonsGranted NotificationType = "buttons_granted"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOutbid,
	NotificationTypeAuctionWon,
	NotificationTypeListingSold,
	NotificationTypeListingExpired,
	NotificationTypeButtonsGranted,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	return oneOf(n, validNotificationTypes)
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	return parse(value, "notification type", validNotificationTypes)
}
