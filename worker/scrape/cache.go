package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"scrape-throttle/throttle/domain"
)

const DefaultSearchCacheTTL = time.Hour

// CachedSearch é o que fica no cache por anúncio.
type CachedSearch struct {
	Query     string         `json:"query"`
	Results   []SearchResult `json:"results"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// SearchCache guarda o último resultado de busca de cada anúncio em <prefix>:search:<listingId>.
type SearchCache struct {
	store  domain.KVStore
	prefix string
	ttl    time.Duration
}

func NewSearchCache(store domain.KVStore, prefix string, ttl time.Duration) *SearchCache {
	if prefix == "" {
		prefix = "throttle"
	}
	if ttl <= 0 {
		ttl = DefaultSearchCacheTTL
	}
	return &SearchCache{store: store, prefix: prefix, ttl: ttl}
}

func (c *SearchCache) key(listingID string) string { return c.prefix + ":search:" + listingID }

func (c *SearchCache) Put(ctx context.Context, listingID string, v CachedSearch) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode search cache: %w", err)
	}
	return c.store.Set(ctx, c.key(listingID), raw, c.ttl)
}

// Get devolve domain.ErrNotFound quando não há cache (ou expirou).
func (c *SearchCache) Get(ctx context.Context, listingID string) (CachedSearch, error) {
	raw, err := c.store.Get(ctx, c.key(listingID))
	if err != nil {
		return CachedSearch{}, err
	}
	var v CachedSearch
	if err := json.Unmarshal(raw, &v); err != nil {
		return CachedSearch{}, fmt.Errorf("decode search cache: %w", err)
	}
	return v, nil
}
