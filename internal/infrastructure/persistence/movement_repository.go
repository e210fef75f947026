package persistence

import (
	"context"
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormMovementRepository implements inventory.MovementRepository using GORM
type GormMovementRepository struct {
	db *gorm.DB
}

// NewGormMovementRepository creates a new GormMovementRepository
func NewGormMovementRepository(db *gorm.DB) *GormMovementRepository {
	return &GormMovementRepository{db: db}
}

// Create inserts a movement and copies the assigned sequence back onto it
func (r *GormMovementRepository) Create(ctx context.Context, m *inventory.Movement) error {
	model := models.MovementModelFromDomain(m)
	model.Sequence = 0
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	m.Sequence = model.Sequence
	return nil
}

// ListByProduct returns a product's movements in ledger order
func (r *GormMovementRepository) ListByProduct(ctx context.Context, productID uuid.UUID, upTo *time.Time) ([]inventory.Movement, error) {
	query := r.db.WithContext(ctx).
		Model(&models.MovementModel{}).
		Where("product_id = ?", productID)
	if upTo != nil {
		query = query.Where("occurred_at <= ?", upTo.UTC())
	}

	var rows []models.MovementModel
	if err := query.Order("occurred_at ASC, sequence ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	movements := make([]inventory.Movement, len(rows))
	for i := range rows {
		movements[i] = rows[i].ToDomain()
	}
	return movements, nil
}

// CountByProduct returns the number of stored movements for a product
func (r *GormMovementRepository) CountByProduct(ctx context.Context, productID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MovementModel{}).
		Where("product_id = ?", productID).
		Count(&count).Error
	return count, err
}

// DistinctProductIDs returns every product with at least one movement
func (r *GormMovementRepository) DistinctProductIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.MovementModel{}).
		Distinct().
		Order("product_id").
		Pluck("product_id", &ids).Error
	return ids, err
}

// Ensure GormMovementRepository implements the interface
var _ inventory.MovementRepository = (*GormMovementRepository)(nil)
