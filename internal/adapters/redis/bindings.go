package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
)

// Bindings stores which MAC addresses are currently whitelisted for each
// wallet. The captive portal registers a binding when it grants access; the
// sync worker walks all bindings to revoke expired ones.
type Bindings struct {
	client *redis.Client
}

func NewBindings(client *redis.Client) *Bindings {
	return &Bindings{client: client}
}

func bindingKey(wallet domain.Address) string {
	return "binding:" + wallet.String()
}

func (b *Bindings) Add(ctx context.Context, wallet domain.Address, mac string) error {
	return b.client.SAdd(ctx, bindingKey(wallet), mac).Err()
}

func (b *Bindings) Remove(ctx context.Context, wallet domain.Address, mac string) error {
	return b.client.SRem(ctx, bindingKey(wallet), mac).Err()
}

func (b *Bindings) MACs(ctx context.Context, wallet domain.Address) ([]string, error) {
	return b.client.SMembers(ctx, bindingKey(wallet)).Result()
}

// Wallets returns every wallet that has at least one bound MAC.
func (b *Bindings) Wallets(ctx context.Context) ([]domain.Address, error) {
	var wallets []domain.Address
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, "binding:*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			wallets = append(wallets, domain.Address(key[len("binding:"):]))
		}
		if next == 0 {
			return wallets, nil
		}
		cursor = next
	}
}
