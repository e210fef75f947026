package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CostSnapshot is the costing state of one product at a point in time,
// independent of catalog reference data.
type CostSnapshot struct {
	Method          strategy.CostMethod `json:"method"`
	OnHand          int64               `json:"on_hand"`
	UnitCost        decimal.Decimal     `json:"unit_cost"`
	StockValue      decimal.Decimal     `json:"stock_value"`
	LastReceiptDate *time.Time          `json:"last_receipt_date,omitempty"`
}

// SnapshotOf captures a strategy's current state
func SnapshotOf(s strategy.CostingStrategy) CostSnapshot {
	return CostSnapshot{
		Method:          s.Method(),
		OnHand:          s.OnHand(),
		UnitCost:        s.CurrentUnitCost(),
		StockValue:      s.StockValue(),
		LastReceiptDate: s.LastReceiptDate(),
	}
}

// Row joins the snapshot with product reference data. Aging is measured
// against asOf.
func (c CostSnapshot) Row(p Product, asOf time.Time) ValuationRow {
	return ValuationRow{
		ProductID:       p.ID,
		SKU:             p.SKU,
		Name:            p.Name,
		CategoryID:      p.CategoryID,
		CategoryName:    p.CategoryName,
		SupplierID:      p.SupplierID,
		SupplierName:    p.SupplierName,
		BranchID:        p.BranchID,
		BranchName:      p.BranchName,
		LocationID:      p.LocationID,
		LocationName:    p.LocationName,
		OnHandQty:       c.OnHand,
		UnitCost:        c.UnitCost,
		StockValue:      c.StockValue,
		AgingBucket:     AgingFor(c.LastReceiptDate, asOf),
		CostMethod:      c.Method,
		LastReceiptDate: c.LastReceiptDate,
		AsOf:            asOf,
	}
}

// SnapshotKey identifies a replay result. Revision is the product's ledger
// movement count when the snapshot was computed, so any append produces a
// new key.
type SnapshotKey struct {
	ProductID uuid.UUID
	Method    strategy.CostMethod
	AsOf      time.Time
	Revision  int64
}

// String renders the key for use in external caches
func (k SnapshotKey) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.ProductID, k.Method, k.AsOf.UTC().UnixNano(), k.Revision)
}

// SnapshotCache stores replay results. A miss returns (nil, nil).
type SnapshotCache interface {
	Get(ctx context.Context, key SnapshotKey) (*CostSnapshot, error)
	Set(ctx context.Context, key SnapshotKey, snap CostSnapshot) error
}
