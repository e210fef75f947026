package persistence

import (
	"context"
	"errors"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormProductCatalog implements inventory.ProductCatalog using GORM
type GormProductCatalog struct {
	db *gorm.DB
}

// NewGormProductCatalog creates a new GormProductCatalog
func NewGormProductCatalog(db *gorm.DB) *GormProductCatalog {
	return &GormProductCatalog{db: db}
}

// GetByID finds a product by ID
func (r *GormProductCatalog) GetByID(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
	var model models.ProductModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.Errorf(shared.ErrUnknownProduct, "product %s does not exist", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List returns all products ordered by name
func (r *GormProductCatalog) List(ctx context.Context) ([]inventory.Product, error) {
	var rows []models.ProductModel
	if err := r.db.WithContext(ctx).Order("name ASC, sku ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	products := make([]inventory.Product, len(rows))
	for i := range rows {
		products[i] = *rows[i].ToDomain()
	}
	return products, nil
}

// Save upserts catalog reference data, keyed by product ID
func (r *GormProductCatalog) Save(ctx context.Context, p *inventory.Product) error {
	if p.ID == uuid.Nil {
		return shared.Errorf(shared.ErrInvalidInput, "product ID cannot be empty")
	}
	model := models.ProductModelFromDomain(p)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

var _ inventory.ProductCatalog = (*GormProductCatalog)(nil)
