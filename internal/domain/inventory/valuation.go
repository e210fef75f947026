package inventory

import (
	"sort"
	"strings"
	"time"

	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// ValuationRow is a read-only projection of one product's stock value at AsOf.
type ValuationRow struct {
	ProductID       uuid.UUID           `json:"product_id"`
	SKU             string              `json:"sku"`
	Name            string              `json:"name"`
	CategoryID      uuid.UUID           `json:"category_id"`
	CategoryName    string              `json:"category_name"`
	SupplierID      uuid.UUID           `json:"supplier_id"`
	SupplierName    string              `json:"supplier_name"`
	BranchID        uuid.UUID           `json:"branch_id"`
	BranchName      string              `json:"branch_name"`
	LocationID      uuid.UUID           `json:"location_id"`
	LocationName    string              `json:"location_name"`
	OnHandQty       int64               `json:"on_hand_qty"`
	UnitCost        decimal.Decimal     `json:"unit_cost"`
	StockValue      decimal.Decimal     `json:"stock_value"`
	AgingBucket     *AgingBucket        `json:"aging_bucket"`
	CostMethod      strategy.CostMethod `json:"cost_method"`
	LastReceiptDate *time.Time          `json:"last_receipt_date"`
	AsOf            time.Time           `json:"as_of"`
}

// ValuationFilter narrows a valuation listing. Every set field must match.
type ValuationFilter struct {
	BranchID    *uuid.UUID
	LocationID  *uuid.UUID
	CategoryID  *uuid.UUID
	SupplierID  *uuid.UUID
	AgingBucket *AgingBucket
	CostMethod  *strategy.CostMethod
	Search      string // case-insensitive substring of name or SKU
}

// MatchesProduct applies the filters that depend only on reference data, so
// callers can skip building rows that cannot match.
func (f ValuationFilter) MatchesProduct(p Product) bool {
	if f.BranchID != nil && p.BranchID != *f.BranchID {
		return false
	}
	if f.LocationID != nil && p.LocationID != *f.LocationID {
		return false
	}
	if f.CategoryID != nil && p.CategoryID != *f.CategoryID {
		return false
	}
	if f.SupplierID != nil && p.SupplierID != *f.SupplierID {
		return false
	}
	if f.CostMethod != nil && p.CostMethod != *f.CostMethod {
		return false
	}
	if f.Search != "" {
		needle := fold(f.Search)
		if !strings.Contains(fold(p.Name), needle) && !strings.Contains(fold(p.SKU), needle) {
			return false
		}
	}
	return true
}

// Matches applies every filter to a built row. Rows without an aging bucket
// never match an aging filter.
func (f ValuationFilter) Matches(r ValuationRow) bool {
	p := Product{
		ID:         r.ProductID,
		SKU:        r.SKU,
		Name:       r.Name,
		CategoryID: r.CategoryID,
		SupplierID: r.SupplierID,
		BranchID:   r.BranchID,
		LocationID: r.LocationID,
		CostMethod: r.CostMethod,
	}
	if !f.MatchesProduct(p) {
		return false
	}
	if f.AgingBucket != nil {
		if r.AgingBucket == nil || *r.AgingBucket != *f.AgingBucket {
			return false
		}
	}
	return true
}

// fold uses a fresh Caser per call; Casers are stateful and not goroutine-safe.
func fold(s string) string {
	return cases.Fold().String(s)
}

// ValuationSummary is a reduction over a filtered set of rows
type ValuationSummary struct {
	Count         int             `json:"count"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
	// AverageUnitCost is the unweighted mean of row unit costs, not a
	// quantity-weighted average.
	AverageUnitCost decimal.Decimal `json:"average_unit_cost"`
	IsHistorical    bool            `json:"is_historical"`
	ReferenceDate   time.Time       `json:"reference_date"`
}

// Summarize reduces rows into a summary
func Summarize(rows []ValuationRow, referenceDate time.Time, historical bool) ValuationSummary {
	summary := ValuationSummary{
		Count:           len(rows),
		TotalValue:      decimal.Zero,
		AverageUnitCost: decimal.Zero,
		IsHistorical:    historical,
		ReferenceDate:   referenceDate,
	}
	if len(rows) == 0 {
		return summary
	}

	costSum := decimal.Zero
	for _, r := range rows {
		summary.TotalQuantity += r.OnHandQty
		summary.TotalValue = summary.TotalValue.Add(r.StockValue)
		costSum = costSum.Add(r.UnitCost)
	}
	summary.AverageUnitCost = costSum.DivRound(decimal.NewFromInt(int64(len(rows))), strategy.CostScale)
	return summary
}

// SortRows orders rows by product name, then SKU, then product ID
func SortRows(rows []ValuationRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		if rows[i].SKU != rows[j].SKU {
			return rows[i].SKU < rows[j].SKU
		}
		return rows[i].ProductID.String() < rows[j].ProductID.String()
	})
}
