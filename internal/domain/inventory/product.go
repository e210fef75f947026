package inventory

import (
	"context"

	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/google/uuid"
)

// Product is the reference data the engine reads for a stocked product.
// It is owned by catalog maintenance elsewhere and never written here.
type Product struct {
	ID           uuid.UUID
	SKU          string
	Name         string
	CategoryID   uuid.UUID
	CategoryName string
	SupplierID   uuid.UUID
	SupplierName string
	BranchID     uuid.UUID
	BranchName   string
	LocationID   uuid.UUID
	LocationName string
	CostMethod   strategy.CostMethod
}

// ProductCatalog looks up product reference data
type ProductCatalog interface {
	// GetByID returns shared.ErrUnknownProduct when the product does not exist
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)

	// List returns all products
	List(ctx context.Context) ([]Product, error)
}
