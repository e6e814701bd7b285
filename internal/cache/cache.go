package cache

import (
	"context"
	"time"

	"bakeledger/backend/internal/domain"
)

// ShoppingListCache holds the rendered shopping list for a short TTL so the
// owner refreshing the list all morning does not hammer the stock table.
// Misses and backend failures both report ok=false; callers rebuild.
type ShoppingListCache interface {
	Get(ctx context.Context) (*domain.ShoppingList, bool)
	Set(ctx context.Context, list *domain.ShoppingList, ttl time.Duration)
	Invalidate(ctx context.Context)
}

// Noop satisfies ShoppingListCache when no redis is configured.
type Noop struct{}

func (Noop) Get(context.Context) (*domain.ShoppingList, bool) { return nil, false }

func (Noop) Set(context.Context, *domain.ShoppingList, time.Duration) {}

func (Noop) Invalidate(context.Context) {}
