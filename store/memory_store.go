package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BatmanBruc/billing-engine/types"
)

const monthlyWindow = 30 * 24 * time.Hour

// MemoryStore keeps billing state in process. A single mutex serializes
// every mutation, which gives the same per-account atomicity as the
// Postgres row locks.
type MemoryStore struct {
	mu            sync.Mutex
	accounts      map[types.AccountID]*types.Account
	contributions map[types.AccountID][]types.Contribution
	payments      map[string]struct{}
	events        map[string]*eventRecord
	now           func() time.Time
}

type eventRecord struct {
	eventType   string
	attempts    int
	receivedAt  time.Time
	processedAt *time.Time
}

var _ types.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[types.AccountID]*types.Account),
		contributions: make(map[types.AccountID][]types.Contribution),
		payments:      make(map[string]struct{}),
		events:        make(map[string]*eventRecord),
		now:           time.Now,
	}
}

func (s *MemoryStore) account(id types.AccountID, createdAt time.Time) *types.Account {
	a, ok := s.accounts[id]
	if !ok {
		a = &types.Account{ID: id, CreatedAt: createdAt.UTC(), MonthlyResetAt: createdAt.UTC()}
		s.accounts[id] = a
	}
	return a
}

func (s *MemoryStore) EnsureAccount(_ context.Context, accountID types.AccountID, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account(accountID, createdAt)
	return nil
}

func (s *MemoryStore) RecordRequest(_ context.Context, accountID types.AccountID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, existed := s.accounts[accountID]
	if !existed {
		a = s.account(accountID, at)
	}
	a.LifetimeRequestCount++
	a.PeriodRequestCount++
	if existed && at.Sub(a.MonthlyResetAt) >= monthlyWindow {
		a.MonthlyRequestCount = 1
		a.MonthlyResetAt = at.UTC()
	} else {
		a.MonthlyRequestCount++
	}
	return nil
}

func (s *MemoryStore) RecordStorageDelta(_ context.Context, accountID types.AccountID, deltaBytes int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.account(accountID, at)
	a.LifetimeStoredBytes += deltaBytes
	if a.LifetimeStoredBytes < 0 {
		a.LifetimeStoredBytes = 0
	}
	if deltaBytes > 0 {
		a.PeriodStoredBytes += deltaBytes
	}
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID types.AccountID) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrAccountNotFound, accountID)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) FindAccountBySubscription(_ context.Context, providerSubscriptionID string) (types.AccountID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.accounts {
		if a.Subscription != nil && a.Subscription.ProviderSubscriptionID == providerSubscriptionID {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, providerSubscriptionID)
}

func (s *MemoryStore) ListContributions(_ context.Context, accountID types.AccountID, limit int) ([]types.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append([]types.Contribution(nil), s.contributions[accountID]...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// WithAccount applies fn to a copy of the account and publishes the copy
// only when fn succeeds.
func (s *MemoryStore) WithAccount(ctx context.Context, accountID types.AccountID, fn func(tx types.AccountTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	acct, ok := s.accounts[accountID]
	if !ok {
		now := s.now().UTC()
		acct = &types.Account{ID: accountID, CreatedAt: now, MonthlyResetAt: now}
	}
	tx := &memAccountTx{
		store: s,
		acct:  acct.Clone(),
		seen:  make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.accounts[accountID] = tx.acct
	for _, c := range tx.pending {
		s.payments[c.ProviderPaymentID] = struct{}{}
		s.contributions[accountID] = append(s.contributions[accountID], c)
	}
	return nil
}

func (s *MemoryStore) BeginEvent(_ context.Context, eventID, eventType string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventID]
	if !ok {
		s.events[eventID] = &eventRecord{eventType: eventType, attempts: 1, receivedAt: at}
		return false, nil
	}
	rec.attempts++
	return rec.processedAt != nil, nil
}

func (s *MemoryStore) MarkEventProcessed(_ context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventID]
	if !ok {
		rec = &eventRecord{attempts: 1, receivedAt: at}
		s.events[eventID] = rec
	}
	if rec.processedAt == nil {
		t := at
		rec.processedAt = &t
	}
	return nil
}

// EventAttempts returns how many deliveries of eventID were seen.
func (s *MemoryStore) EventAttempts(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.events[eventID]; ok {
		return rec.attempts
	}
	return 0
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

type memAccountTx struct {
	store   *MemoryStore
	acct    *types.Account
	pending []types.Contribution
	seen    map[string]struct{}
}

func (t *memAccountTx) Account() *types.Account {
	return t.acct
}

func (t *memAccountTx) SaveSubscription(_ context.Context, sub *types.Subscription) error {
	t.acct.Subscription = sub.Clone()
	return nil
}

func (t *memAccountTx) ClearSubscription(context.Context) error {
	t.acct.Subscription = nil
	return nil
}

func (t *memAccountTx) CreateContribution(_ context.Context, c *types.Contribution) (bool, error) {
	if _, dup := t.store.payments[c.ProviderPaymentID]; dup {
		return false, nil
	}
	if _, dup := t.seen[c.ProviderPaymentID]; dup {
		return false, nil
	}
	t.seen[c.ProviderPaymentID] = struct{}{}

	rec := *c
	rec.AccountID = t.acct.ID
	t.pending = append(t.pending, rec)
	t.acct.TotalContributions = t.acct.TotalContributions.Add(c.NetAmount)
	return true, nil
}

func (t *memAccountTx) ResetPeriod(context.Context) error {
	t.acct.PeriodRequestCount = 0
	t.acct.PeriodStoredBytes = 0
	return nil
}
