package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/RetroPix/RetroPix/app/models"
	"github.com/RetroPix/RetroPix/app/repository"
	"github.com/RetroPix/RetroPix/internal/pkg/cache"
	"gorm.io/gorm"
)

// ErrUnknownActionType is returned for action types that do not exist or are
// deactivated in the consumption config. Configuration/client error; the
// request is rejected.
var ErrUnknownActionType = errors.New("unknown action type")

const costCacheKeyFormat = "credit_cost:%s" // Format: credit_cost:<action_type>
const costCacheTTL = 5 * time.Minute

// Cache accessors are variables so tests can run without a Redis instance.
var (
	CacheGetImplementation = cache.Get
	CacheSetImplementation = cache.Set
)

// Service answers how many credits a generation action consumes. The price
// list lives in the credit_costs table and is admin-tuned out of band; reads
// go through a short-lived Redis cache.
type Service struct {
	costs repository.CreditCostRepository
}

// NewService creates a pricing service from an injected repository.
func NewService(costs repository.CreditCostRepository) *Service {
	return &Service{costs: costs}
}

// Cost returns the credit cost for the given action type. Inactive or
// missing entries fail with ErrUnknownActionType.
func (s *Service) Cost(ctx context.Context, actionType string) (int64, error) {
	_ = ctx
	if !models.IsKnownActionType(actionType) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}

	cacheKey := fmt.Sprintf(costCacheKeyFormat, actionType)
	if cached, err := CacheGetImplementation(cacheKey); err == nil {
		if credits, perr := strconv.ParseInt(cached, 10, 64); perr == nil && credits > 0 {
			return credits, nil
		}
	}

	cost, err := s.costs.GetActiveByActionType(actionType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %q is not active", ErrUnknownActionType, actionType)
		}
		return 0, err
	}

	// Cache is best-effort; the DB row is authoritative.
	_ = CacheSetImplementation(cacheKey, strconv.FormatInt(cost.Credits, 10), costCacheTTL)
	return cost.Credits, nil
}
