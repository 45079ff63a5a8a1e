package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepository mirrors the storage contract in memory: conditional debit on
// reserve, held->terminal transitions, credits claimed per source ref.
type memRepository struct {
	mu           sync.Mutex
	balances     map[uint]int64
	reservations map[string]*memReservation
	creditRefs   map[string]bool
}

type memReservation struct {
	userID uint
	amount int64
	status string
}

func newMemRepository() *memRepository {
	return &memRepository{
		balances:     make(map[uint]int64),
		reservations: make(map[string]*memReservation),
		creditRefs:   make(map[string]bool),
	}
}

func (m *memRepository) Reserve(_ context.Context, userID uint, amount int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] < amount {
		return "", ErrInsufficientCredits
	}
	m.balances[userID] -= amount
	id := uuid.New().String()
	m.reservations[id] = &memReservation{userID: userID, amount: amount, status: "held"}
	return id, nil
}

func (m *memRepository) Finalize(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return ErrReservationNotFound
	}
	switch res.status {
	case "held":
		res.status = "finalized"
		return nil
	case "finalized":
		return nil
	default:
		return ErrInvariantViolation
	}
}

func (m *memRepository) Release(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return ErrReservationNotFound
	}
	switch res.status {
	case "held":
		res.status = "released"
		m.balances[res.userID] += res.amount
		return nil
	case "released":
		return nil
	default:
		return ErrInvariantViolation
	}
}

func (m *memRepository) Credit(_ context.Context, userID uint, amount int64, sourceRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creditRefs[sourceRef] {
		return false, nil
	}
	m.creditRefs[sourceRef] = true
	m.balances[userID] += amount
	return true, nil
}

func (m *memRepository) Balance(_ context.Context, userID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func TestService_Credit_IdempotentPerSourceRef(t *testing.T) {
	svc := NewService(newMemRepository())
	ctx := context.Background()

	credited, err := svc.Credit(ctx, 1, 100, "recharge:42")
	require.NoError(t, err)
	assert.True(t, credited)

	// Replaying the same source ref must not grant again
	credited, err = svc.Credit(ctx, 1, 100, "recharge:42")
	require.NoError(t, err)
	assert.False(t, credited)

	balance, err := svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestService_Reserve_InsufficientCredits(t *testing.T) {
	svc := NewService(newMemRepository())
	ctx := context.Background()

	_, err := svc.Credit(ctx, 1, 3, "recharge:1")
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, 1, 5)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	// The failed attempt must not touch the balance
	balance, err := svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)
}

func TestService_ReserveFinalizeRelease(t *testing.T) {
	svc := NewService(newMemRepository())
	ctx := context.Background()

	_, err := svc.Credit(ctx, 1, 10, "recharge:1")
	require.NoError(t, err)

	resID, err := svc.Reserve(ctx, 1, 4)
	require.NoError(t, err)

	// The hold drops the available balance immediately
	balance, _ := svc.GetBalance(ctx, 1)
	assert.Equal(t, int64(6), balance)

	require.NoError(t, svc.Finalize(ctx, resID))
	// Finalize again is a no-op
	require.NoError(t, svc.Finalize(ctx, resID))

	// Release after finalize crosses terminal states
	err = svc.Release(ctx, resID)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	balance, _ = svc.GetBalance(ctx, 1)
	assert.Equal(t, int64(6), balance)
}

func TestService_Release_ReturnsHold(t *testing.T) {
	svc := NewService(newMemRepository())
	ctx := context.Background()

	_, err := svc.Credit(ctx, 1, 10, "recharge:1")
	require.NoError(t, err)

	resID, err := svc.Reserve(ctx, 1, 4)
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, resID))
	// Release again is a no-op
	require.NoError(t, svc.Release(ctx, resID))

	balance, _ := svc.GetBalance(ctx, 1)
	assert.Equal(t, int64(10), balance)
}

func TestService_ConcurrentReserves_NeverOverdraw(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Credit(ctx, 1, 10, "recharge:1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	succeeded := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id, err := svc.Reserve(ctx, 1, 3); err == nil {
				succeeded <- id
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	count := 0
	for range succeeded {
		count++
	}
	// 10 credits cover at most three holds of 3
	assert.LessOrEqual(t, count, 3)

	balance, _ := svc.GetBalance(ctx, 1)
	assert.GreaterOrEqual(t, balance, int64(0))
	assert.Equal(t, int64(10-count*3), balance)
}

func TestService_InputValidation(t *testing.T) {
	svc := NewService(newMemRepository())
	ctx := context.Background()

	_, err := svc.Reserve(ctx, 0, 5)
	assert.Error(t, err)
	_, err = svc.Reserve(ctx, 1, 0)
	assert.Error(t, err)
	_, err = svc.Credit(ctx, 1, 5, "")
	assert.Error(t, err)
	_, err = svc.Credit(ctx, 1, -5, "x")
	assert.Error(t, err)
	assert.ErrorIs(t, svc.Finalize(ctx, ""), ErrReservationNotFound)
	assert.ErrorIs(t, svc.Release(ctx, ""), ErrReservationNotFound)
}

func TestService_UnknownReservation(t *testing.T) {
	svc := NewService(newMemRepository())
	ctx := context.Background()

	assert.ErrorIs(t, svc.Finalize(ctx, "missing"), ErrReservationNotFound)
	assert.ErrorIs(t, svc.Release(ctx, "missing"), ErrReservationNotFound)
}
