package accounting

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/cache"
)

// BalanceCache memoises current account balances per tenant. Every posting
// bumps the tenant scope, so cached values never outlive a ledger change.
type BalanceCache struct {
	store *cache.Versioned
	group singleflight.Group
}

// NewBalanceCache wraps a versioned cache. A nil store disables caching.
func NewBalanceCache(store *cache.Versioned) *BalanceCache {
	return &BalanceCache{store: store}
}

func tenantScope(tenantID int64) string {
	return "tenant:" + strconv.FormatInt(tenantID, 10)
}

// Fetch returns the cached balance or computes it once across concurrent callers.
func (c *BalanceCache) Fetch(ctx context.Context, tenantID, accountID int64, loader func(context.Context) (AccountBalance, error)) (AccountBalance, error) {
	if c == nil || c.store == nil {
		return loader(ctx)
	}
	key, err := c.store.BuildKey(ctx, tenantScope(tenantID), "balance", strconv.FormatInt(accountID, 10))
	if err != nil {
		return loader(ctx)
	}
	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		var out, loaded AccountBalance
		var loadErr error
		called := false
		err := c.store.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			called = true
			loaded, loadErr = loader(ctx)
			return loaded, loadErr
		})
		if loadErr != nil {
			return AccountBalance{}, loadErr
		}
		if err != nil {
			// redis unavailable: serve from the ledger directly
			if called {
				return loaded, nil
			}
			return loader(ctx)
		}
		return out, nil
	})
	if err != nil {
		return AccountBalance{}, err
	}
	return res.(AccountBalance), nil
}

// Invalidate drops every cached balance of the tenant.
func (c *BalanceCache) Invalidate(ctx context.Context, tenantID int64) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Bump(ctx, tenantScope(tenantID))
}
