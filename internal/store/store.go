// Package store persists carts and reads the catalog, offer codes, PPP factors
// and purchases that checkout depends on.
//
// Three implementations share the interfaces below:
//   - Gorm: PostgreSQL through gorm, the production store
//   - Cached: a Redis read-through cache in front of any CartStore
//   - Memory: a process-local store for development and tests
package store

import (
	"context"

	"checkout-service/internal/model"
)

// CartStore loads and saves cart state by owner.
type CartStore interface {
	// Load returns the owner's cart, or an empty unsaved cart if none exists.
	Load(ctx context.Context, owner model.Owner) (*model.CartState, error)

	// Save atomically replaces the owner's persisted cart with c. Items are
	// matched by (permalink, option); removed items are soft-deleted.
	Save(ctx context.Context, owner model.Owner, c *model.CartState) error
}

// Catalog reads product and pricing data.
type Catalog interface {
	// Products returns the products keyed by permalink. Unknown permalinks are
	// absent from the map.
	Products(ctx context.Context, permalinks []string) (map[string]*model.Product, error)

	// OfferCodes returns the codes that exist, matched case-insensitively.
	OfferCodes(ctx context.Context, codes []string) ([]model.OfferCode, error)

	// PPP returns the factor for the country, or nil if it has none.
	PPP(ctx context.Context, country string) (*model.PPPDetails, error)
}

// Purchases reads completed purchases.
type Purchases interface {
	Purchase(ctx context.Context, id string) (*model.Purchase, error)
}

var (
	_ CartStore = (*Gorm)(nil)
	_ Catalog   = (*Gorm)(nil)
	_ Purchases = (*Gorm)(nil)
	_ CartStore = (*Cached)(nil)
	_ CartStore = (*Memory)(nil)
	_ Catalog   = (*Memory)(nil)
	_ Purchases = (*Memory)(nil)
)
