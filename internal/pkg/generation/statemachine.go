package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RetroPix/RetroPix/app/models"
	"github.com/RetroPix/RetroPix/app/repository"
	"github.com/RetroPix/RetroPix/internal/pkg/ledger"
	"github.com/RetroPix/RetroPix/internal/pkg/pricing"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrIllegalTransition is returned when a non-terminal transition is
// requested from a state that does not allow it.
var ErrIllegalTransition = errors.New("illegal generation state transition")

// Ledger is the slice of the credit ledger the state machine needs.
type Ledger interface {
	Reserve(ctx context.Context, userID uint, amount int64) (string, error)
	Finalize(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
}

// Pricer answers credit costs per action type.
type Pricer interface {
	Cost(ctx context.Context, actionType string) (int64, error)
}

// Service is the generation job state machine: pending -> processing ->
// completed|failed. It owns the pairing between job rows and credit
// reservations: one live hold per non-terminal row, none per terminal row.
type Service struct {
	repo    repository.GenerationRepository
	ledger  Ledger
	pricing Pricer
}

// NewService creates a generation service.
func NewService(repo repository.GenerationRepository, ledgerSvc Ledger, pricer Pricer) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, pricing: pricer}
}

// NewServiceFromDB creates a generation service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(
		repository.NewGenerationRepository(db),
		ledger.NewServiceFromDB(db),
		pricing.NewService(repository.NewCreditCostRepository(db)),
	)
}

// Submit accepts a job request: price lookup, credit reservation, pending
// row. A failed reservation rejects the submission with no record persisted;
// a failed insert releases the hold so no reservation can dangle.
func (s *Service) Submit(ctx context.Context, userID uint, actionType, inputRef string) (*models.Generation, error) {
	if userID == 0 || inputRef == "" {
		return nil, errors.New("user_id and input_ref are required")
	}

	cost, err := s.pricing.Cost(ctx, actionType)
	if err != nil {
		return nil, err
	}

	reservationID, err := s.ledger.Reserve(ctx, userID, cost)
	if err != nil {
		return nil, err
	}

	gen := &models.Generation{
		UUID:            uuid.New().String(),
		UserID:          userID,
		Type:            actionType,
		Status:          models.GenerationStatusPending,
		CreditsReserved: cost,
		ReservationID:   reservationID,
		InputRef:        inputRef,
		StatusChangedAt: time.Now(),
	}
	if err := s.repo.Create(gen); err != nil {
		if rerr := s.ledger.Release(ctx, reservationID); rerr != nil {
			log.Errorf("[Generation] Failed to release reservation %s after insert error: %v", reservationID, rerr)
		}
		return nil, err
	}

	SetGenerationStatus(gen.UUID, models.GenerationStatusPending)
	return gen, nil
}

// MarkDispatched transitions pending -> processing when the job is handed to
// the executor. A redelivery on an already-processing row is a no-op.
func (s *Service) MarkDispatched(ctx context.Context, id uint) error {
	_ = ctx
	transitioned, err := s.repo.TransitionStatus(id,
		[]string{models.GenerationStatusPending},
		models.GenerationStatusProcessing, nil)
	if err != nil {
		return err
	}
	gen, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if !transitioned && gen.Status != models.GenerationStatusProcessing {
		return fmt.Errorf("%w: generation %d is %s, wanted %s",
			ErrIllegalTransition, id, gen.Status, models.GenerationStatusProcessing)
	}
	SetGenerationStatus(gen.UUID, gen.Status)
	return nil
}

// Complete transitions processing -> completed and converts the hold into a
// permanent debit. Terminal callbacks may be redelivered, and the process can
// die between the status write and the ledger settle, so the reservation is
// always reconciled against the record's terminal outcome, not the caller's.
func (s *Service) Complete(ctx context.Context, id uint, outputRef string) error {
	transitioned, err := s.repo.TransitionStatus(id,
		[]string{models.GenerationStatusProcessing},
		models.GenerationStatusCompleted,
		map[string]interface{}{"output_ref": outputRef})
	if err != nil {
		return err
	}
	gen, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if !transitioned {
		if !gen.IsTerminal() {
			return fmt.Errorf("%w: generation %d is %s, wanted %s",
				ErrIllegalTransition, id, gen.Status, models.GenerationStatusCompleted)
		}
		if gen.Status != models.GenerationStatusCompleted {
			log.Infof("[Generation] Ignoring completion callback for generation %d already %s", id, gen.Status)
		}
	}
	if err := s.settleTerminal(ctx, gen); err != nil {
		return err
	}
	SetGenerationStatus(gen.UUID, gen.Status)
	return nil
}

// Fail transitions pending|processing -> failed and returns the reserved
// credits to the user's balance. Idempotent on terminal records; like
// Complete, the reservation is settled per the record's actual outcome.
func (s *Service) Fail(ctx context.Context, id uint, reason string) error {
	transitioned, err := s.repo.TransitionStatus(id,
		[]string{models.GenerationStatusPending, models.GenerationStatusProcessing},
		models.GenerationStatusFailed,
		map[string]interface{}{"error_msg": reason})
	if err != nil {
		return err
	}
	gen, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if !transitioned {
		if !gen.IsTerminal() {
			return fmt.Errorf("%w: generation %d is %s, wanted %s",
				ErrIllegalTransition, id, gen.Status, models.GenerationStatusFailed)
		}
		if gen.Status != models.GenerationStatusFailed {
			log.Infof("[Generation] Ignoring failure callback for generation %d already %s", id, gen.Status)
		}
	}
	if err := s.settleTerminal(ctx, gen); err != nil {
		return err
	}
	SetGenerationStatus(gen.UUID, gen.Status)
	return nil
}

// settleTerminal reconciles the reservation with a terminal record: completed
// finalizes the hold, failed releases it. Both ledger operations are
// idempotent, so redeliveries and crash-window retries converge on the same
// settled state.
func (s *Service) settleTerminal(ctx context.Context, gen *models.Generation) error {
	switch gen.Status {
	case models.GenerationStatusCompleted:
		if err := s.ledger.Finalize(ctx, gen.ReservationID); err != nil {
			return fmt.Errorf("failed to finalize reservation for generation %d: %w", gen.ID, err)
		}
	case models.GenerationStatusFailed:
		if err := s.ledger.Release(ctx, gen.ReservationID); err != nil {
			return fmt.Errorf("failed to release reservation for generation %d: %w", gen.ID, err)
		}
	}
	return nil
}

// FailTimedOut force-fails non-terminal jobs whose last transition is older
// than maxAge, releasing their holds. This backs the bounded-processing
// guarantee when executor callbacks are lost or a dispatch never reached the
// queue.
func (s *Service) FailTimedOut(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	stuck, err := s.repo.ListStuckActive(cutoff)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, gen := range stuck {
		if err := s.Fail(ctx, gen.ID, "processing timeout"); err != nil {
			log.Errorf("[Generation] Failed to time out generation %d: %v", gen.ID, err)
			continue
		}
		failed++
	}
	if failed > 0 {
		log.Warnf("[Generation] Timed out %d stuck generation(s)", failed)
	}
	return failed, nil
}

// GetByUUID returns a generation row by its public id.
func (s *Service) GetByUUID(ctx context.Context, uuid string) (*models.Generation, error) {
	_ = ctx
	return s.repo.GetByUUID(uuid)
}

