package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/RetroPix/RetroPix/app/models"
	"github.com/RetroPix/RetroPix/internal/pkg/billing"
	"github.com/RetroPix/RetroPix/internal/pkg/database"
	"github.com/RetroPix/RetroPix/internal/pkg/env"
	"github.com/RetroPix/RetroPix/internal/pkg/recharge"
	"github.com/RetroPix/RetroPix/internal/pkg/usercontext"
)

// Service factories, replaceable in tests.
var BillingServiceFactory = func() *billing.Service {
	return billing.NewServiceFromDB(database.GetDB())
}

var RechargeServiceFactory = func() *recharge.Service {
	return recharge.NewServiceFromDB(database.GetDB())
}

// HandlePaymentWebhook is the single entry point for payment provider
// notifications. Events are persisted before any effect runs; a redelivery of
// an already processed event is acknowledged without side effects, while a
// redelivery of an unprocessed one is applied again (every apply path is
// idempotent).
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")

	if !billing.VerifyWebhookSignature(rawBody, signature, secret) {
		// Unverifiable payloads never reach the dedup store or any handler.
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	event, err := billing.ParseProcessorEvent(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	svc := BillingServiceFactory()
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && stored.ProcessedAt != nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "duplicate": true})
	}
	// Not created but never processed: a previous delivery crashed or failed
	// mid-apply. Run the apply again; the handlers below tolerate replays.

	applyErr := applyWebhookEvent(ctx, svc, event, string(rawBody))
	if applyErr != nil {
		if errors.Is(applyErr, billing.ErrUnresolvableUser) || errors.Is(applyErr, recharge.ErrIntentNotFound) {
			// Data problem on the provider side; record it for operators and
			// acknowledge so the provider stops redelivering.
			_ = svc.MarkWebhookProcessed(ctx, stored.ID, applyErr)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "ignored": true})
		}
		// Transient failure: keep processed_at NULL so the processor's
		// redelivery re-applies instead of hitting the duplicate gate.
		_ = svc.MarkWebhookFailed(ctx, stored.ID, applyErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_apply_failed"})
	}

	_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

func applyWebhookEvent(ctx context.Context, svc *billing.Service, event *billing.ProcessorEvent, rawPayload string) error {
	switch event.Kind {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		applied, err := svc.SyncSubscription(ctx, *event.Subscription, rawPayload)
		if err != nil {
			return err
		}
		if !applied {
			log.Infof("[Billing] Discarded stale subscription event %s for %s", event.ID, event.Subscription.SubscriptionID)
		}
		return nil
	case billing.EventPaymentSucceeded:
		return RechargeServiceFactory().ConfirmPaid(ctx, event.Payment.IntentID, event.Payment.RechargeRef)
	case billing.EventPaymentFailed:
		reason := event.Payment.FailureMessage
		if reason == "" {
			reason = "payment failed"
		}
		return RechargeServiceFactory().MarkFailed(ctx, event.Payment.IntentID, event.Payment.RechargeRef, reason)
	default:
		log.Infof("[Billing] Ignoring unrecognized webhook event type %s (%s)", event.Type, event.ID)
		return nil
	}
}

// HandleListSubscriptions returns the caller's mirrored subscription state.
func HandleListSubscriptions(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	subs, err := BillingServiceFactory().ListUserSubscriptions(context.Background(), userCtx.UserID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscriptions")
	}

	items := make([]fiber.Map, 0, len(subs))
	for _, sub := range subs {
		items = append(items, fiber.Map{
			"provider":        sub.Provider,
			"subscription_id": sub.ProviderSubscriptionID,
			"product_id":      sub.ProductID,
			"status":          sub.Status,
			"event_timestamp": sub.EventTimestamp.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"subscriptions": items})
}
