package models

import (
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementModel is the persistence model for a ledger movement.
// Rows are insert-only; Sequence is the database-assigned insertion order.
type MovementModel struct {
	Sequence          int64           `gorm:"primaryKey;autoIncrement"`
	ID                uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	ProductID         uuid.UUID       `gorm:"type:uuid;not null;index:idx_cost_movements_product_time,priority:1"`
	OccurredAt        time.Time       `gorm:"not null;index:idx_cost_movements_product_time,priority:2"`
	Direction         string          `gorm:"type:varchar(3);not null"`
	Quantity          int64           `gorm:"not null"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(38,16);not null"`
	TotalCost         decimal.Decimal `gorm:"type:decimal(38,16);not null"`
	DocumentType      string          `gorm:"type:varchar(32);not null"`
	DocumentReference string          `gorm:"type:varchar(100);not null;index"`
	BranchID          *uuid.UUID      `gorm:"type:uuid"`
	CreatedAt         time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MovementModel) TableName() string {
	return "cost_movements"
}

// ToDomain converts the persistence model to a domain Movement.
// RunningBalance is derived from ledger order and left at zero here.
func (m *MovementModel) ToDomain() inventory.Movement {
	return inventory.Movement{
		ID:                m.ID,
		ProductID:         m.ProductID,
		Sequence:          m.Sequence,
		OccurredAt:        m.OccurredAt.UTC(),
		Direction:         inventory.Direction(m.Direction),
		Quantity:          m.Quantity,
		UnitCost:          m.UnitCost,
		TotalCost:         m.TotalCost,
		DocumentType:      inventory.DocumentType(m.DocumentType),
		DocumentReference: m.DocumentReference,
		BranchID:          m.BranchID,
		CreatedAt:         m.CreatedAt,
	}
}

// FromDomain populates the model from a domain Movement.
// Timestamps are stored in UTC so textual ordering matches time ordering.
func (m *MovementModel) FromDomain(mv *inventory.Movement) {
	m.Sequence = mv.Sequence
	m.ID = mv.ID
	m.ProductID = mv.ProductID
	m.OccurredAt = mv.OccurredAt.UTC()
	m.Direction = string(mv.Direction)
	m.Quantity = mv.Quantity
	m.UnitCost = mv.UnitCost
	m.TotalCost = mv.TotalCost
	m.DocumentType = string(mv.DocumentType)
	m.DocumentReference = mv.DocumentReference
	m.BranchID = mv.BranchID
	m.CreatedAt = mv.CreatedAt
}

// MovementModelFromDomain creates a new persistence model from a domain Movement
func MovementModelFromDomain(mv *inventory.Movement) *MovementModel {
	m := &MovementModel{}
	m.FromDomain(mv)
	return m
}

// ProductModel is the read projection of catalog data the engine needs
type ProductModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	SKU          string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	Name         string    `gorm:"type:varchar(200);not null;index"`
	CategoryID   uuid.UUID `gorm:"type:uuid;index"`
	CategoryName string    `gorm:"type:varchar(100)"`
	SupplierID   uuid.UUID `gorm:"type:uuid;index"`
	SupplierName string    `gorm:"type:varchar(200)"`
	BranchID     uuid.UUID `gorm:"type:uuid;index"`
	BranchName   string    `gorm:"type:varchar(100)"`
	LocationID   uuid.UUID `gorm:"type:uuid;index"`
	LocationName string    `gorm:"type:varchar(100)"`
	CostMethod   string    `gorm:"type:varchar(20);not null;default:'moving_average'"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to a domain Product
func (m *ProductModel) ToDomain() *inventory.Product {
	return &inventory.Product{
		ID:           m.ID,
		SKU:          m.SKU,
		Name:         m.Name,
		CategoryID:   m.CategoryID,
		CategoryName: m.CategoryName,
		SupplierID:   m.SupplierID,
		SupplierName: m.SupplierName,
		BranchID:     m.BranchID,
		BranchName:   m.BranchName,
		LocationID:   m.LocationID,
		LocationName: m.LocationName,
		CostMethod:   strategy.CostMethod(m.CostMethod),
	}
}

// FromDomain populates the model from a domain Product
func (m *ProductModel) FromDomain(p *inventory.Product) {
	m.ID = p.ID
	m.SKU = p.SKU
	m.Name = p.Name
	m.CategoryID = p.CategoryID
	m.CategoryName = p.CategoryName
	m.SupplierID = p.SupplierID
	m.SupplierName = p.SupplierName
	m.BranchID = p.BranchID
	m.BranchName = p.BranchName
	m.LocationID = p.LocationID
	m.LocationName = p.LocationName
	m.CostMethod = string(p.CostMethod)
}

// ProductModelFromDomain creates a new persistence model from a domain Product
func ProductModelFromDomain(p *inventory.Product) *ProductModel {
	m := &ProductModel{}
	m.FromDomain(p)
	return m
}

// All returns every model, in AutoMigrate order
func All() []any {
	return []any{&ProductModel{}, &MovementModel{}}
}
