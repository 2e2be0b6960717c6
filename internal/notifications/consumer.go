package notifications

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/registry"
)

const feedNotificationConsumer = "feed-notifications"

type creator interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
}

type idempotencyChecker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.State, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns feed events into in-app notifications for the users they
// concern.
type Consumer struct {
	repo         creator
	subscription *pubsub.Subscriber
	idempotency  idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer builds a feed notification consumer.
func NewConsumer(repo creator, subscription *pubsub.Subscriber, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	if !handled(eventType) {
		c.logg.Debug(logCtx, "skipping event without notifications")
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, _ := envelope.ParsedEventID()

	state, err := c.idempotency.Claim(ctx, feedNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency claim failed", err)
		return processResult{nack: true}
	}
	switch state {
	case idempotency.Done:
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	case idempotency.InFlight:
		c.logg.Debug(logCtx, "event claimed by another delivery")
		return processResult{nack: true}
	}

	notifications, err := build(eventType, eventID, envelope)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Release(ctx, feedNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	for i := range notifications {
		created, err := c.repo.Create(ctx, &notifications[i])
		if err != nil {
			c.logg.Error(logCtx, "notification insert failed", err)
			_ = c.idempotency.Release(ctx, feedNotificationConsumer, eventID)
			return processResult{nack: true}
		}
		if created {
			userCtx := c.logg.WithFields(logCtx, map[string]any{
				"user_id": notifications[i].UserID.String(),
				"type":    string(notifications[i].Type),
			})
			c.logg.Info(userCtx, "user notified")
		}
	}
	if err := c.idempotency.Complete(ctx, feedNotificationConsumer, eventID); err != nil {
		// rows are unique per (event, user) so a replay only re-checks them
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "idempotency complete failed")
	}
	return processResult{ack: true}
}

func handled(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventAuctionBidOutbid, enums.EventAuctionSettled, enums.EventButtonsGranted:
		return true
	}
	return false
}

var feedDecoders = registry.NewFeedDecoders()

func build(eventType enums.OutboxEventType, eventID uuid.UUID, envelope outbox.PayloadEnvelope) ([]models.Notification, error) {
	decoded, err := feedDecoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, err
	}
	switch payload := decoded.(type) {
	case *payloads.BidOutbidEvent:
		return outbidNotifications(eventID, *payload)
	case *payloads.AuctionSettledEvent:
		return settledNotifications(eventID, *payload)
	case *payloads.ButtonsGrantedEvent:
		return grantedNotifications(eventID, *payload)
	}
	return nil, nil
}

func outbidNotifications(eventID uuid.UUID, payload payloads.BidOutbidEvent) ([]models.Notification, error) {
	if payload.BidderID == uuid.Nil || payload.AuctionID == uuid.Nil {
		return nil, fmt.Errorf("outbid payload missing ids")
	}
	message := fmt.Sprintf("Your bid of %s was outbid by %s.", formatAmount(payload.Kind, payload.Amount), formatAmount(payload.Kind, payload.NewAmount))
	if payload.RefundedAmount > 0 {
		message = fmt.Sprintf("%s %d buttons were returned to your balance.", message, payload.RefundedAmount)
	}
	return []models.Notification{{
		UserID:  payload.BidderID,
		EventID: eventID,
		Type:    enums.NotificationTypeOutbid,
		Title:   "You've been outbid",
		Message: message,
		Link:    auctionLink(payload.Kind, payload.AuctionID),
	}}, nil
}

func settledNotifications(eventID uuid.UUID, payload payloads.AuctionSettledEvent) ([]models.Notification, error) {
	if payload.OwnerID == uuid.Nil || payload.AuctionID == uuid.Nil {
		return nil, fmt.Errorf("settled payload missing ids")
	}
	link := auctionLink(payload.Kind, payload.AuctionID)
	switch payload.Status {
	case enums.AuctionStatusSold:
		if payload.WinnerID == nil {
			return nil, fmt.Errorf("sold payload missing winner")
		}
		amount := formatAmount(payload.Kind, payload.Amount)
		won := "You won the auction for " + amount + "."
		sold := "Your listing sold for " + amount + "."
		if payload.Kind == enums.AuctionKindResale {
			won = fmt.Sprintf("You won %d buttons for %s. They are now in your balance.", payload.ButtonAmount, amount)
			sold = fmt.Sprintf("Your %d buttons sold for %s.", payload.ButtonAmount, amount)
		}
		return []models.Notification{
			{UserID: *payload.WinnerID, EventID: eventID, Type: enums.NotificationTypeAuctionWon, Title: "You won!", Message: won, Link: link},
			{UserID: payload.OwnerID, EventID: eventID, Type: enums.NotificationTypeListingSold, Title: "Listing sold", Message: sold, Link: link},
		}, nil
	case enums.AuctionStatusExpired:
		message := "Your listing ended without any bids."
		if payload.Kind == enums.AuctionKindResale {
			message = fmt.Sprintf("Your listing ended without any bids. %d buttons were returned to your balance.", payload.ButtonAmount)
		}
		return []models.Notification{
			{UserID: payload.OwnerID, EventID: eventID, Type: enums.NotificationTypeListingExpired, Title: "Listing expired", Message: message, Link: link},
		}, nil
	}
	return nil, nil
}

func grantedNotifications(eventID uuid.UUID, payload payloads.ButtonsGrantedEvent) ([]models.Notification, error) {
	if payload.UserID == uuid.Nil {
		return nil, fmt.Errorf("grant payload missing user")
	}
	title := "Buttons added"
	if payload.Kind == enums.LedgerEntryKindInitialGrant {
		title = "Welcome to ButtonBid"
	}
	return []models.Notification{{
		UserID:  payload.UserID,
		EventID: eventID,
		Type:    enums.NotificationTypeButtonsGranted,
		Title:   title,
		Message: fmt.Sprintf("%d buttons were added to your balance.", payload.Amount),
		Link:    stringPtr("/wallet"),
	}}, nil
}

func formatAmount(kind enums.AuctionKind, amount string) string {
	if kind == enums.AuctionKindResale {
		return "$" + amount
	}
	return amount + " buttons"
}

func auctionLink(kind enums.AuctionKind, auctionID uuid.UUID) *string {
	return stringPtr(fmt.Sprintf("/auctions/%s/%s", kind, auctionID))
}

func stringPtr(value string) *string {
	return &value
}
