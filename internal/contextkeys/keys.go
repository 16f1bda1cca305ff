package contextkeys

import (
	"context"

	"github.com/BatmanBruc/billing-engine/types"
)

type requestIDKey struct{}
type accountIDKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func GetRequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey{}).(string)
	return v, ok
}

func WithAccountID(ctx context.Context, accountID types.AccountID) context.Context {
	return context.WithValue(ctx, accountIDKey{}, accountID)
}

// GetAccountID returns the account resolved for the current request, if any.
func GetAccountID(ctx context.Context) (types.AccountID, bool) {
	v, ok := ctx.Value(accountIDKey{}).(types.AccountID)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
