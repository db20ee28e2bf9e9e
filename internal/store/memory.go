package store

import (
	"context"
	"strings"
	"sync"

	"checkout-service/internal/cart"
	"checkout-service/internal/model"
)

// Memory keeps everything in process. Used by tests and by the server when
// no database is configured.
type Memory struct {
	mu        sync.Mutex
	carts     map[string]*model.CartState
	products  map[string]*model.Product
	codes     []model.OfferCode
	ppp       map[string]*model.PPPDetails
	purchases map[string]*model.Purchase

	// SaveErr, when set, fails every Save.
	SaveErr error
	saves   int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		carts:     make(map[string]*model.CartState),
		products:  make(map[string]*model.Product),
		ppp:       make(map[string]*model.PPPDetails),
		purchases: make(map[string]*model.Purchase),
	}
}

// AddProduct registers a catalog product.
func (m *Memory) AddProduct(p *model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.Permalink] = p
}

// AddOfferCode registers a discount code.
func (m *Memory) AddOfferCode(oc model.OfferCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, oc)
}

// SetPPP registers a country's factor.
func (m *Memory) SetPPP(d model.PPPDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ppp[strings.ToUpper(d.Country)] = &d
}

// AddPurchase registers a completed purchase.
func (m *Memory) AddPurchase(p *model.Purchase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases[p.ID] = p
}

// Saves returns the number of successful Save calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Rows returns the number of persisted carts.
func (m *Memory) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.carts)
}

// Load implements CartStore.
func (m *Memory) Load(_ context.Context, owner model.Owner) (*model.CartState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[owner.CacheKey()]; ok && !owner.IsZero() {
		return c.Clone(), nil
	}
	return cart.New(), nil
}

// Save implements CartStore.
func (m *Memory) Save(_ context.Context, owner model.Owner, c *model.CartState) error {
	if owner.IsZero() {
		return model.NewValidationError("owner", "user or browser id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.carts[owner.CacheKey()] = c.Clone()
	m.saves++
	return nil
}

// Products implements Catalog.
func (m *Memory) Products(_ context.Context, permalinks []string) (map[string]*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*model.Product, len(permalinks))
	for _, pl := range permalinks {
		if p, ok := m.products[pl]; ok {
			out[pl] = p
		}
	}
	return out, nil
}

// OfferCodes implements Catalog.
func (m *Memory) OfferCodes(_ context.Context, codes []string) ([]model.OfferCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.OfferCode
	for _, oc := range m.codes {
		for _, want := range codes {
			if strings.EqualFold(oc.Code, want) {
				out = append(out, oc)
				break
			}
		}
	}
	return out, nil
}

// PPP implements Catalog.
func (m *Memory) PPP(_ context.Context, country string) (*model.PPPDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ppp[strings.ToUpper(country)], nil
}

// Purchase implements Purchases.
func (m *Memory) Purchase(_ context.Context, id string) (*model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.purchases[id]; ok {
		return p, nil
	}
	return nil, model.NewNotFoundError("purchase")
}
