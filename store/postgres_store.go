package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/BatmanBruc/billing-engine/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ types.Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = buildPostgresDSNFromEnv()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func buildPostgresDSNFromEnv() string {
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("POSTGRES_PORT"))
	if port == "" {
		port = "5432"
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		db = "billing"
	}
	user := strings.TrimSpace(os.Getenv("POSTGRES_USER"))
	if user == "" {
		user = "billing"
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", urlEscape(user), urlEscape(pass), host, port, db)
}

func urlEscape(s string) string {
	r := strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"/", "%2F",
		"@", "%40",
		"?", "%3F",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
	)
	return r.Replace(s)
}

// RunMigrations applies the embedded goose migrations and returns once the
// schema is current.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, accountID types.AccountID, createdAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO billing_accounts (account_id, monthly_reset_at, created_at)
VALUES ($1, $2, $2)
ON CONFLICT (account_id) DO NOTHING
`, string(accountID), createdAt.UTC())
	return err
}

func (s *PostgresStore) RecordRequest(ctx context.Context, accountID types.AccountID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO billing_accounts (account_id, lifetime_request_count, period_request_count, monthly_request_count, monthly_reset_at, created_at)
VALUES ($1, 1, 1, 1, $2, $2)
ON CONFLICT (account_id) DO UPDATE SET
  lifetime_request_count = billing_accounts.lifetime_request_count + 1,
  period_request_count = billing_accounts.period_request_count + 1,
  monthly_request_count = CASE
    WHEN $2::timestamptz - billing_accounts.monthly_reset_at >= INTERVAL '30 days' THEN 1
    ELSE billing_accounts.monthly_request_count + 1
  END,
  monthly_reset_at = CASE
    WHEN $2::timestamptz - billing_accounts.monthly_reset_at >= INTERVAL '30 days' THEN $2::timestamptz
    ELSE billing_accounts.monthly_reset_at
  END,
  updated_at = NOW()
`, string(accountID), at.UTC())
	return err
}

func (s *PostgresStore) RecordStorageDelta(ctx context.Context, accountID types.AccountID, deltaBytes int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO billing_accounts (account_id, lifetime_stored_bytes, period_stored_bytes, monthly_reset_at, created_at)
VALUES ($1, GREATEST($2::bigint, 0), GREATEST($2::bigint, 0), $3, $3)
ON CONFLICT (account_id) DO UPDATE SET
  lifetime_stored_bytes = GREATEST(billing_accounts.lifetime_stored_bytes + $2::bigint, 0),
  period_stored_bytes = billing_accounts.period_stored_bytes + GREATEST($2::bigint, 0),
  updated_at = NOW()
`, string(accountID), deltaBytes, at.UTC())
	return err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectAccount = `
SELECT account_id, lifetime_request_count, lifetime_stored_bytes, period_request_count, period_stored_bytes,
  monthly_request_count, monthly_reset_at, total_contributions::text, created_at
FROM billing_accounts
WHERE account_id = $1
`

func loadAccount(ctx context.Context, q querier, accountID types.AccountID, forUpdate bool) (*types.Account, error) {
	query := selectAccount
	if forUpdate {
		query += "FOR UPDATE\n"
	}
	var (
		a     types.Account
		id    string
		total string
	)
	err := q.QueryRow(ctx, query, string(accountID)).Scan(
		&id, &a.LifetimeRequestCount, &a.LifetimeStoredBytes, &a.PeriodRequestCount, &a.PeriodStoredBytes,
		&a.MonthlyRequestCount, &a.MonthlyResetAt, &total, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}
	a.ID = types.AccountID(id)
	if a.TotalContributions, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("total_contributions: %w", err)
	}

	a.Subscription, err = loadSubscription(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func loadSubscription(ctx context.Context, q querier, accountID types.AccountID) (*types.Subscription, error) {
	var (
		sub                        types.Subscription
		status                     string
		amount, tier, customer     *string
		lastAmount                 *string
		periodStart, periodEnd, at *time.Time
	)
	err := q.QueryRow(ctx, `
SELECT provider_subscription_id, status, monthly_amount::text, tier_name, provider_customer_id,
  current_period_start, current_period_end, last_payment_amount::text, last_payment_at
FROM subscriptions
WHERE account_id = $1
`, string(accountID)).Scan(
		&sub.ProviderSubscriptionID, &status, &amount, &tier, &customer,
		&periodStart, &periodEnd, &lastAmount, &at,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub.Status = types.SubscriptionStatus(status)
	if sub.MonthlyAmount, err = nullDecimal(amount); err != nil {
		return nil, fmt.Errorf("monthly_amount: %w", err)
	}
	if sub.LastPaymentAmount, err = nullDecimal(lastAmount); err != nil {
		return nil, fmt.Errorf("last_payment_amount: %w", err)
	}
	sub.TierName = deref(tier)
	sub.ProviderCustomerID = deref(customer)
	sub.CurrentPeriodStart = periodStart
	sub.CurrentPeriodEnd = periodEnd
	sub.LastPaymentAt = at
	return &sub, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID types.AccountID) (*types.Account, error) {
	return loadAccount(ctx, s.pool, accountID, false)
}

func (s *PostgresStore) FindAccountBySubscription(ctx context.Context, providerSubscriptionID string) (types.AccountID, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
SELECT account_id
FROM subscriptions
WHERE provider_subscription_id = $1
ORDER BY updated_at DESC
LIMIT 1
`, providerSubscriptionID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, providerSubscriptionID)
	}
	if err != nil {
		return "", err
	}
	return types.AccountID(id), nil
}

func (s *PostgresStore) ListContributions(ctx context.Context, accountID types.AccountID, limit int) ([]types.Contribution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, account_id, gross_amount::text, net_amount::text, fee_amount::text, currency, kind,
  provider_payment_id, provider_session_id, provider_event_id, status, created_at
FROM contributions
WHERE account_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, string(accountID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.Contribution, 0)
	for rows.Next() {
		var (
			c                   types.Contribution
			acct, kind, status  string
			gross, net, fee     string
			session, providerEv *string
		)
		if err := rows.Scan(&c.ID, &acct, &gross, &net, &fee, &c.Currency, &kind,
			&c.ProviderPaymentID, &session, &providerEv, &status, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.AccountID = types.AccountID(acct)
		c.Kind = types.ContributionKind(kind)
		c.Status = types.ContributionStatus(status)
		c.ProviderSessionID = deref(session)
		c.ProviderEventID = deref(providerEv)
		if c.GrossAmount, err = decimal.NewFromString(gross); err != nil {
			return nil, err
		}
		if c.NetAmount, err = decimal.NewFromString(net); err != nil {
			return nil, err
		}
		if c.FeeAmount, err = decimal.NewFromString(fee); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WithAccount(ctx context.Context, accountID types.AccountID, fn func(tx types.AccountTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
INSERT INTO billing_accounts (account_id, monthly_reset_at, created_at)
VALUES ($1, $2, $2)
ON CONFLICT (account_id) DO NOTHING
`, string(accountID), now)
	if err != nil {
		return err
	}

	acct, err := loadAccount(ctx, tx, accountID, true)
	if err != nil {
		return err
	}

	if err := fn(&pgAccountTx{tx: tx, acct: acct}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) BeginEvent(ctx context.Context, eventID, eventType string, at time.Time) (processed bool, err error) {
	err = s.pool.QueryRow(ctx, `
INSERT INTO webhook_events (provider_event_id, event_type, received_at)
VALUES ($1, $2, $3)
ON CONFLICT (provider_event_id) DO UPDATE SET
  attempts = webhook_events.attempts + 1
RETURNING processed_at IS NOT NULL
`, eventID, eventType, at.UTC()).Scan(&processed)
	return processed, err
}

func (s *PostgresStore) MarkEventProcessed(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE webhook_events
SET processed_at = $2
WHERE provider_event_id = $1 AND processed_at IS NULL
`, eventID, at.UTC())
	return err
}

type pgAccountTx struct {
	tx   pgx.Tx
	acct *types.Account
}

func (t *pgAccountTx) Account() *types.Account {
	return t.acct
}

func (t *pgAccountTx) SaveSubscription(ctx context.Context, sub *types.Subscription) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO subscriptions (account_id, provider_subscription_id, status, monthly_amount, tier_name, provider_customer_id,
  current_period_start, current_period_end, last_payment_amount, last_payment_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9::numeric, $10)
ON CONFLICT (account_id) DO UPDATE SET
  provider_subscription_id = EXCLUDED.provider_subscription_id,
  status = EXCLUDED.status,
  monthly_amount = EXCLUDED.monthly_amount,
  tier_name = EXCLUDED.tier_name,
  provider_customer_id = EXCLUDED.provider_customer_id,
  current_period_start = EXCLUDED.current_period_start,
  current_period_end = EXCLUDED.current_period_end,
  last_payment_amount = EXCLUDED.last_payment_amount,
  last_payment_at = EXCLUDED.last_payment_at,
  updated_at = NOW()
`, string(t.acct.ID), sub.ProviderSubscriptionID, string(sub.Status), nullDecimalArg(sub.MonthlyAmount),
		nullString(sub.TierName), nullString(sub.ProviderCustomerID),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, nullDecimalArg(sub.LastPaymentAmount), sub.LastPaymentAt)
	if err != nil {
		return err
	}
	t.acct.Subscription = sub.Clone()
	return nil
}

func (t *pgAccountTx) ClearSubscription(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM subscriptions WHERE account_id = $1`, string(t.acct.ID))
	if err != nil {
		return err
	}
	t.acct.Subscription = nil
	return nil
}

func (t *pgAccountTx) CreateContribution(ctx context.Context, c *types.Contribution) (inserted bool, err error) {
	tag, err := t.tx.Exec(ctx, `
INSERT INTO contributions (id, account_id, gross_amount, net_amount, fee_amount, currency, kind,
  provider_payment_id, provider_session_id, provider_event_id, status, created_at)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (provider_payment_id) DO NOTHING
`, c.ID, string(t.acct.ID), c.GrossAmount.String(), c.NetAmount.String(), c.FeeAmount.String(),
		c.Currency, string(c.Kind), c.ProviderPaymentID, nullString(c.ProviderSessionID),
		nullString(c.ProviderEventID), string(c.Status), c.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = t.tx.Exec(ctx, `
UPDATE billing_accounts
SET total_contributions = total_contributions + $2::numeric, updated_at = NOW()
WHERE account_id = $1
`, string(t.acct.ID), c.NetAmount.String())
	if err != nil {
		return false, err
	}
	t.acct.TotalContributions = t.acct.TotalContributions.Add(c.NetAmount)
	return true, nil
}

func (t *pgAccountTx) ResetPeriod(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `
UPDATE billing_accounts
SET period_request_count = 0, period_stored_bytes = 0, updated_at = NOW()
WHERE account_id = $1
`, string(t.acct.ID))
	if err != nil {
		return err
	}
	t.acct.PeriodRequestCount = 0
	t.acct.PeriodStoredBytes = 0
	return nil
}

func nullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullDecimalArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nullString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
