package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"bakeledger/backend/internal/domain"
)

const shoppingListKey = "bakeledger:shopping_list"

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context) (*domain.ShoppingList, bool) {
	body, err := c.client.Get(ctx, shoppingListKey).Bytes()
	if err != nil {
		return nil, false
	}
	var list domain.ShoppingList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, false
	}
	return &list, true
}

func (c *Redis) Set(ctx context.Context, list *domain.ShoppingList, ttl time.Duration) {
	body, err := json.Marshal(list)
	if err != nil {
		return
	}
	c.client.Set(ctx, shoppingListKey, body, ttl)
}

func (c *Redis) Invalidate(ctx context.Context) {
	c.client.Del(ctx, shoppingListKey)
}
