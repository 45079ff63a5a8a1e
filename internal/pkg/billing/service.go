package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/RetroPix/RetroPix/app/models"
	"github.com/RetroPix/RetroPix/internal/pkg/payment"
	"gorm.io/gorm"
)

// ErrUnresolvableUser is returned when a provider customer carries no local
// user id in its metadata. This is a data-integrity problem upstream: it is
// surfaced to operators via the webhook event's processing_error and not
// retried automatically.
var ErrUnresolvableUser = errors.New("provider customer does not resolve to a local user")

// CustomerResolver looks up provider customer metadata. Satisfied by
// *payment.Client.
type CustomerResolver interface {
	GetCustomer(ctx context.Context, customerID string) (*payment.Customer, error)
}

// Service provides webhook event persistence and subscription state sync.
type Service struct {
	repo      Repository
	customers CustomerResolver
}

// NewService creates a billing service from an injected repository and
// customer resolver.
func NewService(repo Repository, customers CustomerResolver) *Service {
	return &Service{repo: repo, customers: customers}
}

// NewServiceFromDB creates a billing service from a GORM DB handle using the
// environment-configured payment client.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), payment.NewClientFromEnv())
}

// ResolveUserID maps a provider customer id to the local user id stamped into
// the customer's metadata at checkout time.
func (s *Service) ResolveUserID(ctx context.Context, customerID string) (uint, error) {
	customer, err := s.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("customer lookup failed: %w", err)
	}
	raw := strings.TrimSpace(customer.Metadata["user_id"])
	if raw == "" {
		return 0, fmt.Errorf("%w: customer %s has no user_id metadata", ErrUnresolvableUser, customerID)
	}
	userID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || userID == 0 {
		return 0, fmt.Errorf("%w: customer %s has malformed user_id %q", ErrUnresolvableUser, customerID, raw)
	}
	return uint(userID), nil
}

// SyncSubscription resolves the event's customer to a user and applies the
// subscription state last-writer-wins by event timestamp. Returns false when
// the event was discarded as stale.
func (s *Service) SyncSubscription(ctx context.Context, ev SubscriptionEventData, rawPayloadJSON string) (bool, error) {
	if strings.TrimSpace(ev.SubscriptionID) == "" || strings.TrimSpace(ev.CustomerID) == "" {
		return false, errors.New("subscription_id and customer_id are required")
	}
	if ev.EventTimestamp.IsZero() {
		return false, errors.New("event timestamp is required")
	}

	userID, err := s.ResolveUserID(ctx, ev.CustomerID)
	if err != nil {
		return false, err
	}

	status := strings.ToLower(strings.TrimSpace(ev.Status))
	if status == "" {
		status = models.BillingStatusActive
	}

	sub := &models.BillingSubscription{
		UserID:                 userID,
		Provider:               models.BillingProviderStripe,
		ProviderCustomerID:     strings.TrimSpace(ev.CustomerID),
		ProviderSubscriptionID: strings.TrimSpace(ev.SubscriptionID),
		ProductID:              strings.TrimSpace(ev.ProductID),
		Status:                 status,
		EventTimestamp:         ev.EventTimestamp,
		RawPayloadJSON:         rawPayloadJSON,
	}
	return s.repo.UpsertSubscriptionIfNewer(sub)
}

// RecordWebhookEvent persists webhook payloads idempotently. The returned
// created flag is false for redeliveries; callers must then check the stored
// event's ProcessedAt before deciding whether to re-apply.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional
// error. Only call this when the event needs no further delivery: either the
// apply succeeded, or the failure is one a retry cannot fix.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// MarkWebhookFailed records a transient apply failure. ProcessedAt stays NULL
// so the processor's redelivery runs the apply again.
func (s *Service) MarkWebhookFailed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.RecordWebhookFailure(webhookEventID, errMsg)
}

// ListUserSubscriptions returns the provider subscription state mirrored for
// a user.
func (s *Service) ListUserSubscriptions(ctx context.Context, userID uint) ([]models.BillingSubscription, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	return s.repo.ListSubscriptionsByUser(userID)
}
