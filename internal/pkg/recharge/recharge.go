package recharge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RetroPix/RetroPix/app/models"
	"github.com/RetroPix/RetroPix/app/repository"
	"github.com/RetroPix/RetroPix/internal/pkg/ledger"
	"github.com/RetroPix/RetroPix/internal/pkg/payment"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ErrPaymentProviderFailure is returned when the provider-side intent
// creation failed. The local row is marked failed; no ledger effect.
var ErrPaymentProviderFailure = errors.New("payment provider call failed")

// ErrIntentNotFound is returned when a provider intent id matches no local
// recharge row.
var ErrIntentNotFound = errors.New("recharge intent not found")

// IntentCreator creates provider-side payment intents. Satisfied by
// *payment.Client.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*payment.PaymentIntent, error)
}

// Service manages the recharge (credit purchase) lifecycle.
type Service struct {
	repo    repository.RechargeRepository
	ledger  *ledger.Service
	intents IntentCreator
}

// NewService creates a recharge service.
func NewService(repo repository.RechargeRepository, ledgerSvc *ledger.Service, intents IntentCreator) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, intents: intents}
}

// NewServiceFromDB creates a recharge service from a GORM DB handle using the
// environment-configured payment client.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(
		repository.NewRechargeRepository(db),
		ledger.NewServiceFromDB(db),
		payment.NewClientFromEnv(),
	)
}

// CreateIntent starts a credit purchase. The local pending row is written
// before the provider call: a crash mid-flight leaves a recoverable pending
// record, never an orphaned external charge. Returns the recharge row and the
// client secret for the payment widget.
func (s *Service) CreateIntent(ctx context.Context, userID uint, credits, priceCents int64, currency, packageName string) (*models.Recharge, string, error) {
	if userID == 0 || credits <= 0 || priceCents <= 0 {
		return nil, "", errors.New("user_id, credits and price are required")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return nil, "", errors.New("currency is required")
	}

	recharge := &models.Recharge{
		UserID:      userID,
		Credits:     credits,
		PriceCents:  priceCents,
		Currency:    currency,
		PackageName: strings.TrimSpace(packageName),
		Status:      models.RechargeStatusPending,
	}
	if err := s.repo.Create(recharge); err != nil {
		return nil, "", err
	}

	intent, err := s.intents.CreatePaymentIntent(ctx, priceCents, currency, map[string]string{
		"recharge_id": fmt.Sprintf("%d", recharge.ID),
		"user_id":     fmt.Sprintf("%d", userID),
	})
	if err != nil {
		if _, ferr := s.repo.MarkFailed(recharge.ID, err.Error()); ferr != nil {
			log.Errorf("[Recharge] Failed to mark recharge %d failed: %v", recharge.ID, ferr)
		}
		return nil, "", fmt.Errorf("%w: %v", ErrPaymentProviderFailure, err)
	}

	if err := s.repo.SetProviderIntentID(recharge.ID, intent.ID); err != nil {
		// The provider intent exists but the id write failed; the row stays
		// pending until the stuck-intent sweep picks it up.
		log.Errorf("[Recharge] Failed to persist provider intent id for recharge %d: %v", recharge.ID, err)
	}
	recharge.ProviderIntentID = &intent.ID

	return recharge, intent.ClientSecret, nil
}

// findIntent resolves a provider intent id to its local recharge row. When
// the intent id write-back was lost after the provider call, the recharge id
// from the intent metadata recovers the row and heals the missing write-back.
func (s *Service) findIntent(providerIntentID, rechargeRef string) (*models.Recharge, error) {
	recharge, err := s.repo.GetByProviderIntentID(providerIntentID)
	if err == nil {
		return recharge, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	id, perr := strconv.ParseUint(strings.TrimSpace(rechargeRef), 10, 32)
	if perr != nil || id == 0 {
		return nil, fmt.Errorf("%w: provider intent %s", ErrIntentNotFound, providerIntentID)
	}
	recharge, err = s.repo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: provider intent %s", ErrIntentNotFound, providerIntentID)
		}
		return nil, err
	}
	if recharge.ProviderIntentID != nil && *recharge.ProviderIntentID != providerIntentID {
		return nil, fmt.Errorf("%w: provider intent %s does not match recharge %d", ErrIntentNotFound, providerIntentID, recharge.ID)
	}
	if recharge.ProviderIntentID == nil {
		log.Warnf("[Recharge] Recovered recharge %d for provider intent %s via intent metadata", recharge.ID, providerIntentID)
		if serr := s.repo.SetProviderIntentID(recharge.ID, providerIntentID); serr != nil {
			log.Errorf("[Recharge] Failed to heal provider intent id for recharge %d: %v", recharge.ID, serr)
		}
		recharge.ProviderIntentID = &providerIntentID
	}
	return recharge, nil
}

// ConfirmPaid applies a verified provider payment confirmation. Idempotent:
// a recharge already paid logs and no-ops, and the ledger credit is keyed on
// the recharge id so a replay can never double-credit. rechargeRef is the
// recharge id from the intent metadata, used as a fallback lookup.
func (s *Service) ConfirmPaid(ctx context.Context, providerIntentID, rechargeRef string) error {
	recharge, err := s.findIntent(providerIntentID, rechargeRef)
	if err != nil {
		return err
	}

	if recharge.Status == models.RechargeStatusPaid {
		log.Infof("[Recharge] Recharge %d already paid, ignoring duplicate confirmation", recharge.ID)
		// Ensure the credit landed even if a previous run crashed between
		// the status flip and the ledger write. Credit is a no-op when the
		// source ref was already applied.
		_, err := s.ledger.Credit(ctx, recharge.UserID, recharge.Credits, creditSourceRef(recharge.ID))
		return err
	}

	transitioned, err := s.repo.MarkPaid(recharge.ID)
	if err != nil {
		return err
	}
	if !transitioned {
		// Lost the race against a concurrent confirmation or the intent
		// already failed; re-read to decide.
		current, rerr := s.repo.GetByID(recharge.ID)
		if rerr != nil {
			return rerr
		}
		if current.Status != models.RechargeStatusPaid {
			return fmt.Errorf("recharge %d is %s, cannot confirm payment", recharge.ID, current.Status)
		}
	}

	credited, err := s.ledger.Credit(ctx, recharge.UserID, recharge.Credits, creditSourceRef(recharge.ID))
	if err != nil {
		return err
	}
	if credited {
		log.Infof("[Recharge] Credited %d credits to user %d for recharge %d", recharge.Credits, recharge.UserID, recharge.ID)
	}
	return nil
}

// MarkFailed applies an explicit provider payment failure. No ledger effect.
func (s *Service) MarkFailed(ctx context.Context, providerIntentID, rechargeRef, reason string) error {
	_ = ctx
	recharge, err := s.findIntent(providerIntentID, rechargeRef)
	if err != nil {
		return err
	}

	transitioned, err := s.repo.MarkFailed(recharge.ID, reason)
	if err != nil {
		return err
	}
	if !transitioned {
		log.Infof("[Recharge] Recharge %d already %s, ignoring failure notification", recharge.ID, recharge.Status)
	}
	return nil
}

// RecoverStuckIntents fails pending rows that never reached the provider
// (crash between the local insert and the intent call). Run periodically by
// the job queue manager.
func (s *Service) RecoverStuckIntents(ctx context.Context, olderThan time.Duration) (int, error) {
	_ = ctx
	cutoff := time.Now().Add(-olderThan)
	stuck, err := s.repo.ListStuckPending(cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, recharge := range stuck {
		transitioned, err := s.repo.MarkFailed(recharge.ID, "abandoned before provider intent creation")
		if err != nil {
			log.Errorf("[Recharge] Failed to recover stuck recharge %d: %v", recharge.ID, err)
			continue
		}
		if transitioned {
			recovered++
		}
	}
	if recovered > 0 {
		log.Infof("[Recharge] Recovered %d stuck pending recharge(s)", recovered)
	}
	return recovered, nil
}

// ListByUser returns the user's recharge history, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uint) ([]models.Recharge, error) {
	_ = ctx
	return s.repo.ListByUser(userID, 0, 50)
}

func creditSourceRef(rechargeID uint) string {
	return fmt.Sprintf("recharge:%d", rechargeID)
}
