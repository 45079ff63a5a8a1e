package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Service is the credit ledger facade used by recharge confirmation and the
// generation state machine. All mutations are atomic at the storage layer;
// callers must never hold a ledger operation open across an external network
// call (reserve before dispatch, finalize/release after it returns).
type Service struct {
	repo Repository
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Reserve places a provisional hold of amount credits on the user's balance
// and returns the reservation id. Fails with ErrInsufficientCredits when the
// balance does not cover the hold.
func (s *Service) Reserve(ctx context.Context, userID uint, amount int64) (string, error) {
	if userID == 0 || amount <= 0 {
		return "", errors.New("user_id and a positive amount are required")
	}
	return s.repo.Reserve(ctx, userID, amount)
}

// Finalize converts a hold into a permanent spend. Repeating the call on an
// already finalized reservation is a no-op.
func (s *Service) Finalize(ctx context.Context, reservationID string) error {
	if reservationID == "" {
		return ErrReservationNotFound
	}
	return s.repo.Finalize(ctx, reservationID)
}

// Release returns a hold to the user's balance. Repeating the call on an
// already released reservation is a no-op.
func (s *Service) Release(ctx context.Context, reservationID string) error {
	if reservationID == "" {
		return ErrReservationNotFound
	}
	return s.repo.Release(ctx, reservationID)
}

// Credit grants credits idempotently per sourceRef: replaying the same
// sourceRef leaves the balance unchanged and returns credited=false.
func (s *Service) Credit(ctx context.Context, userID uint, amount int64, sourceRef string) (bool, error) {
	if userID == 0 || amount <= 0 || sourceRef == "" {
		return false, errors.New("user_id, a positive amount and source_ref are required")
	}
	return s.repo.Credit(ctx, userID, amount, sourceRef)
}

// GetBalance returns the latest committed balance; users without a ledger row
// yet have balance 0.
func (s *Service) GetBalance(ctx context.Context, userID uint) (int64, error) {
	return s.repo.Balance(ctx, userID)
}
