package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared"
	"github.com/google/uuid"
)

// MemoryMovementRepository is an in-process MovementRepository used by the
// memory database driver and by tests.
type MemoryMovementRepository struct {
	mu        sync.RWMutex
	seq       int64
	byProduct map[uuid.UUID][]inventory.Movement
}

func NewMemoryMovementRepository() *MemoryMovementRepository {
	return &MemoryMovementRepository{byProduct: make(map[uuid.UUID][]inventory.Movement)}
}

func (r *MemoryMovementRepository) Create(_ context.Context, m *inventory.Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	m.Sequence = r.seq
	r.byProduct[m.ProductID] = append(r.byProduct[m.ProductID], *m)
	return nil
}

func (r *MemoryMovementRepository) ListByProduct(_ context.Context, productID uuid.UUID, upTo *time.Time) ([]inventory.Movement, error) {
	r.mu.RLock()
	stored := r.byProduct[productID]
	out := make([]inventory.Movement, 0, len(stored))
	for _, m := range stored {
		if upTo != nil && m.OccurredAt.After(*upTo) {
			continue
		}
		out = append(out, m)
	}
	r.mu.RUnlock()

	inventory.SortMovements(out)
	return out, nil
}

func (r *MemoryMovementRepository) CountByProduct(_ context.Context, productID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.byProduct[productID])), nil
}

func (r *MemoryMovementRepository) DistinctProductIDs(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.byProduct))
	for id := range r.byProduct {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// MemoryProductCatalog is an in-process ProductCatalog
type MemoryProductCatalog struct {
	mu       sync.RWMutex
	products map[uuid.UUID]inventory.Product
}

func NewMemoryProductCatalog(products ...inventory.Product) *MemoryProductCatalog {
	c := &MemoryProductCatalog{products: make(map[uuid.UUID]inventory.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MemoryProductCatalog) GetByID(_ context.Context, id uuid.UUID) (*inventory.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, shared.Errorf(shared.ErrUnknownProduct, "product %s does not exist", id)
	}
	return &p, nil
}

func (c *MemoryProductCatalog) List(_ context.Context) ([]inventory.Product, error) {
	c.mu.RLock()
	out := make([]inventory.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].SKU < out[j].SKU
	})
	return out, nil
}

func (c *MemoryProductCatalog) Save(_ context.Context, p *inventory.Product) error {
	if p.ID == uuid.Nil {
		return shared.Errorf(shared.ErrInvalidInput, "product ID cannot be empty")
	}
	c.mu.Lock()
	c.products[p.ID] = *p
	c.mu.Unlock()
	return nil
}

var (
	_ inventory.MovementRepository = (*MemoryMovementRepository)(nil)
	_ inventory.ProductCatalog     = (*MemoryProductCatalog)(nil)
)
