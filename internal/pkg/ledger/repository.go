package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RetroPix/RetroPix/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the atomic ledger mutations. Every method is a single
// DB transaction; concurrent operations on the same user serialize on the
// conditional balance update, so the sum of holds and spends can never exceed
// the credits ever granted.
type Repository interface {
	Reserve(ctx context.Context, userID uint, amount int64) (string, error)
	Finalize(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	Credit(ctx context.Context, userID uint, amount int64, sourceRef string) (bool, error)
	Balance(ctx context.Context, userID uint) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Reserve(ctx context.Context, userID uint, amount int64) (string, error) {
	reservationID := uuid.New().String()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Conditional debit: only succeeds while balance covers the hold.
		res := tx.Model(&models.CreditBalance{}).
			Where("user_id = ? AND balance >= ?", userID, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Either no ledger row exists yet or the balance is too low.
			return ErrInsufficientCredits
		}

		var acct models.CreditBalance
		if err := tx.Where("user_id = ?", userID).First(&acct).Error; err != nil {
			return err
		}

		hold := models.CreditReservation{
			ID:     reservationID,
			UserID: userID,
			Amount: amount,
			Status: models.ReservationStatusHeld,
		}
		if err := tx.Create(&hold).Error; err != nil {
			return err
		}

		audit := models.CreditTransaction{
			UserID:        userID,
			Kind:          models.CreditTxKindReserve,
			SourceRef:     reservationRef(reservationID),
			Amount:        -amount,
			BalanceBefore: acct.Balance + amount,
			BalanceAfter:  acct.Balance,
		}
		return tx.Create(&audit).Error
	})
	if err != nil {
		return "", err
	}
	return reservationID, nil
}

func (r *gormRepository) Finalize(ctx context.Context, reservationID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CreditReservation{}).
			Where("id = ? AND status = ?", reservationID, models.ReservationStatusHeld).
			Update("status", models.ReservationStatusFinalized)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.terminalStateOf(tx, reservationID, models.ReservationStatusFinalized)
		}

		var hold models.CreditReservation
		if err := tx.Where("id = ?", reservationID).First(&hold).Error; err != nil {
			return err
		}
		var acct models.CreditBalance
		if err := tx.Where("user_id = ?", hold.UserID).First(&acct).Error; err != nil {
			return err
		}

		// Balance already dropped at reserve time; the debit row records the
		// hold becoming a permanent spend.
		audit := models.CreditTransaction{
			UserID:        hold.UserID,
			Kind:          models.CreditTxKindDebit,
			SourceRef:     reservationRef(reservationID),
			Amount:        0,
			BalanceBefore: acct.Balance,
			BalanceAfter:  acct.Balance,
		}
		return tx.Create(&audit).Error
	})
}

func (r *gormRepository) Release(ctx context.Context, reservationID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CreditReservation{}).
			Where("id = ? AND status = ?", reservationID, models.ReservationStatusHeld).
			Update("status", models.ReservationStatusReleased)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.terminalStateOf(tx, reservationID, models.ReservationStatusReleased)
		}

		var hold models.CreditReservation
		if err := tx.Where("id = ?", reservationID).First(&hold).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.CreditBalance{}).
			Where("user_id = ?", hold.UserID).
			Update("balance", gorm.Expr("balance + ?", hold.Amount)).Error; err != nil {
			return err
		}
		var acct models.CreditBalance
		if err := tx.Where("user_id = ?", hold.UserID).First(&acct).Error; err != nil {
			return err
		}

		audit := models.CreditTransaction{
			UserID:        hold.UserID,
			Kind:          models.CreditTxKindRelease,
			SourceRef:     reservationRef(reservationID),
			Amount:        hold.Amount,
			BalanceBefore: acct.Balance - hold.Amount,
			BalanceAfter:  acct.Balance,
		}
		return tx.Create(&audit).Error
	})
}

func (r *gormRepository) Credit(ctx context.Context, userID uint, amount int64, sourceRef string) (bool, error) {
	credited := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Claim the source ref first; a duplicate insert means this credit
		// was already applied and the whole operation is a no-op.
		audit := models.CreditTransaction{
			UserID:    userID,
			Kind:      models.CreditTxKindCredit,
			SourceRef: sourceRef,
			Amount:    amount,
		}
		claim := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "source_ref"}},
			DoNothing: true,
		}).Create(&audit)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return nil
		}
		credited = true

		// Create the balance row lazily on first credit.
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":    gorm.Expr("balance + ?", amount),
				"updated_at": time.Now(),
			}),
		}).Create(&models.CreditBalance{UserID: userID, Balance: amount}).Error; err != nil {
			return err
		}

		var acct models.CreditBalance
		if err := tx.Where("user_id = ?", userID).First(&acct).Error; err != nil {
			return err
		}
		return tx.Model(&audit).Updates(map[string]interface{}{
			"balance_before": acct.Balance - amount,
			"balance_after":  acct.Balance,
		}).Error
	})
	return credited, err
}

func (r *gormRepository) Balance(ctx context.Context, userID uint) (int64, error) {
	var acct models.CreditBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No credit event yet; the ledger row is created lazily.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// terminalStateOf resolves why a conditional held->terminal update matched no
// rows: repeating the same terminal transition is a no-op, crossing into the
// other one is an invariant violation.
func (r *gormRepository) terminalStateOf(tx *gorm.DB, reservationID, wanted string) error {
	var hold models.CreditReservation
	if err := tx.Where("id = ?", reservationID).First(&hold).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrReservationNotFound
		}
		return err
	}
	if hold.Status == wanted {
		return nil
	}
	return fmt.Errorf("%w: reservation %s is %s, wanted %s", ErrInvariantViolation, reservationID, hold.Status, wanted)
}

func reservationRef(reservationID string) string {
	return "reservation:" + reservationID
}
