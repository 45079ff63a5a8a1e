package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RetroPix/RetroPix/app/models"
	"github.com/RetroPix/RetroPix/internal/pkg/billing"
	"github.com/RetroPix/RetroPix/internal/pkg/payment"
)

// memWebhookRepository implements the billing repository contract in memory
// with the same last-writer-wins and dedup semantics as the storage layer.
type memWebhookRepository struct {
	subs   map[string]*models.BillingSubscription
	events map[string]*models.BillingWebhookEvent
	nextID uint
}

func newMemWebhookRepository() *memWebhookRepository {
	return &memWebhookRepository{
		subs:   make(map[string]*models.BillingSubscription),
		events: make(map[string]*models.BillingWebhookEvent),
	}
}

func (m *memWebhookRepository) UpsertSubscriptionIfNewer(sub *models.BillingSubscription) (bool, error) {
	key := sub.Provider + "/" + sub.ProviderSubscriptionID
	existing, ok := m.subs[key]
	if ok && !existing.EventTimestamp.Before(sub.EventTimestamp) {
		return false, nil
	}
	m.nextID++
	sub.ID = m.nextID
	if ok {
		sub.ID = existing.ID
	}
	cp := *sub
	m.subs[key] = &cp
	return true, nil
}

func (m *memWebhookRepository) ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error) {
	var out []models.BillingSubscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *memWebhookRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := m.events[key]; ok {
		return false, stored, nil
	}
	m.nextID++
	event.ID = m.nextID
	cp := *event
	m.events[key] = &cp
	return true, &cp, nil
}

func (m *memWebhookRepository) MarkWebhookProcessed(id uint, processingError string) error {
	for _, ev := range m.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("event %d not found", id)
}

func (m *memWebhookRepository) RecordWebhookFailure(id uint, processingError string) error {
	for _, ev := range m.events {
		if ev.ID == id {
			ev.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("event %d not found", id)
}

func (m *memWebhookRepository) storedEvent(providerEventID string) *models.BillingWebhookEvent {
	return m.events[models.BillingProviderStripe+"/"+providerEventID]
}

// flakyCustomers fails the first n lookups with a transient error, then
// answers from a fixed map.
type flakyCustomers struct {
	failures  int
	customers map[string]*payment.Customer
}

func (f *flakyCustomers) GetCustomer(_ context.Context, customerID string) (*payment.Customer, error) {
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("gateway timeout")
	}
	if c, ok := f.customers[customerID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no such customer %s", customerID)
}

func newWebhookApp(t *testing.T, repo billing.Repository, customers billing.CustomerResolver) *fiber.App {
	t.Helper()
	orig := BillingServiceFactory
	BillingServiceFactory = func() *billing.Service { return billing.NewService(repo, customers) }
	t.Cleanup(func() { BillingServiceFactory = orig })

	app := fiber.New()
	app.Post("/webhooks/payment", HandlePaymentWebhook)
	return app
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, app *fiber.App, body []byte, signature string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp.StatusCode, decoded
}

func subscriptionEventBody(eventID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "customer.subscription.updated",
		"created": 1735689600,
		"data": {
			"object": {
				"id": "sub_1",
				"customer": "cus_ok",
				"status": "active",
				"items": {"data": [{"price": {"product": "prod_pro"}}]}
			}
		}
	}`, eventID))
}

func TestPaymentWebhook_TransientFailureIsReappliedOnRedelivery(t *testing.T) {
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_test")
	repo := newMemWebhookRepository()
	customers := &flakyCustomers{
		failures: 1,
		customers: map[string]*payment.Customer{
			"cus_ok": {ID: "cus_ok", Metadata: map[string]string{"user_id": "7"}},
		},
	}
	app := newWebhookApp(t, repo, customers)

	body := subscriptionEventBody("evt_retry")
	sig := signBody("whsec_test", body)

	// First delivery hits a transient customer-lookup failure
	status, decoded := postWebhook(t, app, body, sig)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "webhook_apply_failed", decoded["error"])

	// The stored event must stay open for re-apply, not be stamped processed
	stored := repo.storedEvent("evt_retry")
	require.NotNil(t, stored)
	assert.Nil(t, stored.ProcessedAt)
	assert.NotEmpty(t, stored.ProcessingError)
	assert.Empty(t, repo.subs)

	// The processor redelivers and the apply runs again
	status, decoded = postWebhook(t, app, body, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, decoded["success"])

	sub := repo.subs[models.BillingProviderStripe+"/sub_1"]
	require.NotNil(t, sub)
	assert.Equal(t, uint(7), sub.UserID)
	assert.Equal(t, models.BillingStatusActive, sub.Status)
	assert.NotNil(t, repo.storedEvent("evt_retry").ProcessedAt)
}

func TestPaymentWebhook_DuplicateAfterSuccessIsAcknowledged(t *testing.T) {
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_test")
	repo := newMemWebhookRepository()
	customers := &flakyCustomers{customers: map[string]*payment.Customer{
		"cus_ok": {ID: "cus_ok", Metadata: map[string]string{"user_id": "7"}},
	}}
	app := newWebhookApp(t, repo, customers)

	body := subscriptionEventBody("evt_dup")
	sig := signBody("whsec_test", body)

	status, decoded := postWebhook(t, app, body, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, decoded["success"])

	status, decoded = postWebhook(t, app, body, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, true, decoded["duplicate"])
}

func TestPaymentWebhook_InvalidSignatureIsNeverStored(t *testing.T) {
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_test")
	repo := newMemWebhookRepository()
	app := newWebhookApp(t, repo, &flakyCustomers{})

	body := subscriptionEventBody("evt_bad_sig")
	status, decoded := postWebhook(t, app, body, signBody("wrong_secret", body))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", decoded["error"])
	assert.Empty(t, repo.events)
}

func TestPaymentWebhook_UnresolvableUserIsAcknowledged(t *testing.T) {
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_test")
	repo := newMemWebhookRepository()
	customers := &flakyCustomers{customers: map[string]*payment.Customer{
		"cus_ok": {ID: "cus_ok", Metadata: map[string]string{}},
	}}
	app := newWebhookApp(t, repo, customers)

	body := subscriptionEventBody("evt_no_user")
	status, decoded := postWebhook(t, app, body, signBody("whsec_test", body))

	// A data problem upstream is acked so the provider stops redelivering,
	// with the error recorded on the closed event row
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, decoded["ignored"])
	stored := repo.storedEvent("evt_no_user")
	require.NotNil(t, stored)
	assert.NotNil(t, stored.ProcessedAt)
	assert.NotEmpty(t, stored.ProcessingError)
}
