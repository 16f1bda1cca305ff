// Package estimates serves cost estimates for accounts, caching them for a
// short time.
package estimates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/observability/logger"
	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/types"
)

const DefaultTTL = time.Minute

type AccountReader interface {
	GetAccount(ctx context.Context, accountID types.AccountID) (*types.Account, error)
}

type Recorder interface {
	IncEstimateCache(result string)
}

type Service struct {
	accounts  AccountReader
	estimator *pricing.Estimator
	cache     Cache
	ttl       time.Duration
	metrics   Recorder
	log       *zap.Logger
}

func NewService(accounts AccountReader, estimator *pricing.Estimator, cache Cache, ttl time.Duration, metrics Recorder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		accounts:  accounts,
		estimator: estimator,
		cache:     cache,
		ttl:       ttl,
		metrics:   metrics,
		log:       log.Named("estimates"),
	}
}

// Get returns the estimate for accountID. Cache failures only cost a
// recomputation.
func (s *Service) Get(ctx context.Context, accountID types.AccountID) (pricing.CostEstimate, error) {
	log := logger.With(s.log, ctx)

	if s.cache != nil {
		est, err := s.cache.Get(ctx, accountID)
		switch {
		case err == nil:
			s.record("hit")
			return est, nil
		case errors.Is(err, types.ErrCacheMiss):
			s.record("miss")
		default:
			s.record("error")
			log.Warn("estimate cache read failed", zap.Error(err))
		}
	}

	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return pricing.CostEstimate{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	est := s.estimator.Estimate(acct)

	if s.cache != nil {
		if err := s.cache.Set(ctx, accountID, est, s.ttl); err != nil {
			log.Warn("estimate cache write failed", zap.Error(err))
		}
	}
	return est, nil
}

// Invalidate drops the cached estimate of accountID.
func (s *Service) Invalidate(ctx context.Context, accountID types.AccountID) {
	if s.cache == nil || accountID == "" {
		return
	}
	if err := s.cache.Delete(ctx, accountID); err != nil {
		logger.With(s.log, ctx).Warn("estimate cache invalidation failed",
			zap.String("account_id", string(accountID)), zap.Error(err))
	}
}

func (s *Service) record(result string) {
	if s.metrics != nil {
		s.metrics.IncEstimateCache(result)
	}
}
