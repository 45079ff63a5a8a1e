package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RetroPix/RetroPix/app/models"
	"github.com/RetroPix/RetroPix/internal/pkg/payment"
)

// memBillingRepository keeps subscriptions and webhook events in maps and
// applies the same last-writer-wins rule as the storage layer.
type memBillingRepository struct {
	subs   map[string]*models.BillingSubscription
	events map[string]*models.BillingWebhookEvent
	nextID uint
}

func newMemBillingRepository() *memBillingRepository {
	return &memBillingRepository{
		subs:   make(map[string]*models.BillingSubscription),
		events: make(map[string]*models.BillingWebhookEvent),
	}
}

func subKey(provider, subscriptionID string) string {
	return provider + "/" + subscriptionID
}

func (m *memBillingRepository) UpsertSubscriptionIfNewer(sub *models.BillingSubscription) (bool, error) {
	key := subKey(sub.Provider, sub.ProviderSubscriptionID)
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

// storedSubscription is a test helper for asserting on upserted state.
func (m *memBillingRepository) storedSubscription(provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	if sub, ok := m.subs[subKey(provider, providerSubscriptionID)]; ok {
		return sub, nil
	}
	return nil, fmt.Errorf("not found")
}

func (m *memBillingRepository) ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error) {
	var out []models.BillingSubscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *memBillingRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
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

func (m *memBillingRepository) MarkWebhookProcessed(id uint, processingError string) error {
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

func (m *memBillingRepository) RecordWebhookFailure(id uint, processingError string) error {
	for _, ev := range m.events {
		if ev.ID == id {
			ev.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("event %d not found", id)
}

// fakeCustomers answers customer lookups from a fixed map.
type fakeCustomers struct {
	customers map[string]*payment.Customer
}

func (f *fakeCustomers) GetCustomer(_ context.Context, customerID string) (*payment.Customer, error) {
	if c, ok := f.customers[customerID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no such customer %s", customerID)
}

func newTestService(repo Repository) *Service {
	return NewService(repo, &fakeCustomers{customers: map[string]*payment.Customer{
		"cus_ok":        {ID: "cus_ok", Metadata: map[string]string{"user_id": "7"}},
		"cus_no_meta":   {ID: "cus_no_meta", Metadata: map[string]string{}},
		"cus_bad_meta":  {ID: "cus_bad_meta", Metadata: map[string]string{"user_id": "abc"}},
		"cus_zero_meta": {ID: "cus_zero_meta", Metadata: map[string]string{"user_id": "0"}},
	}})
}

func TestService_ResolveUserID(t *testing.T) {
	svc := newTestService(newMemBillingRepository())
	ctx := context.Background()

	userID, err := svc.ResolveUserID(ctx, "cus_ok")
	require.NoError(t, err)
	assert.Equal(t, uint(7), userID)

	_, err = svc.ResolveUserID(ctx, "cus_no_meta")
	assert.ErrorIs(t, err, ErrUnresolvableUser)

	_, err = svc.ResolveUserID(ctx, "cus_bad_meta")
	assert.ErrorIs(t, err, ErrUnresolvableUser)

	_, err = svc.ResolveUserID(ctx, "cus_zero_meta")
	assert.ErrorIs(t, err, ErrUnresolvableUser)
}

func TestService_SyncSubscription_LastWriterWins(t *testing.T) {
	repo := newMemBillingRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	// The newer event arrives first
	applied, err := svc.SyncSubscription(ctx, SubscriptionEventData{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_ok",
		Status:         models.BillingStatusCanceled,
		EventTimestamp: t2,
	}, "{}")
	require.NoError(t, err)
	assert.True(t, applied)

	// The older event arrives late and must be discarded
	applied, err = svc.SyncSubscription(ctx, SubscriptionEventData{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_ok",
		Status:         models.BillingStatusActive,
		EventTimestamp: t1,
	}, "{}")
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := repo.storedSubscription(models.BillingProviderStripe, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCanceled, stored.Status)
	assert.Equal(t, uint(7), stored.UserID)
}

func TestService_SyncSubscription_EqualTimestampDiscarded(t *testing.T) {
	repo := newMemBillingRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ev := SubscriptionEventData{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_ok",
		Status:         models.BillingStatusActive,
		EventTimestamp: ts,
	}

	applied, err := svc.SyncSubscription(ctx, ev, "{}")
	require.NoError(t, err)
	assert.True(t, applied)

	// Replaying the same event is a no-op, not an error
	applied, err = svc.SyncSubscription(ctx, ev, "{}")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestService_SyncSubscription_UnresolvableUser(t *testing.T) {
	svc := newTestService(newMemBillingRepository())

	_, err := svc.SyncSubscription(context.Background(), SubscriptionEventData{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_no_meta",
		Status:         models.BillingStatusActive,
		EventTimestamp: time.Now(),
	}, "{}")
	assert.ErrorIs(t, err, ErrUnresolvableUser)
}

func TestService_SyncSubscription_Validation(t *testing.T) {
	svc := newTestService(newMemBillingRepository())
	ctx := context.Background()

	_, err := svc.SyncSubscription(ctx, SubscriptionEventData{CustomerID: "cus_ok", EventTimestamp: time.Now()}, "{}")
	assert.Error(t, err)

	_, err = svc.SyncSubscription(ctx, SubscriptionEventData{SubscriptionID: "sub_1", CustomerID: "cus_ok"}, "{}")
	assert.Error(t, err)
}

func TestService_RecordWebhookEvent_Dedup(t *testing.T) {
	repo := newMemBillingRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	in := WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_1",
		EventType:       "payment_intent.succeeded",
		PayloadJSON:     "{}",
		SignatureValid:  true,
	}

	created, stored, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)

	// Same provider event id is deduplicated and the stored row returned
	createdAgain, storedAgain, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, createdAgain)
	assert.Equal(t, stored.ID, storedAgain.ID)
}

func TestService_MarkWebhookFailed_KeepsEventEligibleForReapply(t *testing.T) {
	repo := newMemBillingRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	in := WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_1",
		EventType:       "customer.subscription.updated",
		PayloadJSON:     "{}",
		SignatureValid:  true,
	}
	created, stored, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	require.True(t, created)

	// A transient apply failure stores the error but leaves processed_at
	// NULL, so a redelivery re-applies instead of deduplicating
	require.NoError(t, svc.MarkWebhookFailed(ctx, stored.ID, fmt.Errorf("customer lookup failed")))
	_, storedAgain, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, storedAgain.ProcessedAt)
	assert.Equal(t, "customer lookup failed", storedAgain.ProcessingError)

	// A successful apply closes the event for good
	require.NoError(t, svc.MarkWebhookProcessed(ctx, stored.ID, nil))
	_, storedFinal, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.NotNil(t, storedFinal.ProcessedAt)
}

func TestService_ListUserSubscriptions(t *testing.T) {
	repo := newMemBillingRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, subID := range []string{"sub_1", "sub_2"} {
		_, err := svc.SyncSubscription(ctx, SubscriptionEventData{
			SubscriptionID: subID,
			CustomerID:     "cus_ok",
			Status:         models.BillingStatusActive,
			EventTimestamp: ts.Add(time.Duration(i) * time.Minute),
		}, "{}")
		require.NoError(t, err)
	}

	subs, err := svc.ListUserSubscriptions(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	subs, err = svc.ListUserSubscriptions(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, subs)

	_, err = svc.ListUserSubscriptions(ctx, 0)
	assert.Error(t, err)
}

func TestService_RecordWebhookEvent_HashFallbackID(t *testing.T) {
	repo := newMemBillingRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	in := WebhookEventInput{
		Provider:       models.BillingProviderStripe,
		EventType:      "payment_intent.succeeded",
		PayloadJSON:    `{"id":"pi_1"}`,
		SignatureValid: true,
	}

	created, stored, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, stored.ProviderEventID, "hash:")

	// The same payload without an event id still deduplicates
	created, _, err = svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
}
