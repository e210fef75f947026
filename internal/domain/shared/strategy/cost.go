package strategy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CostMethod represents the inventory costing method
type CostMethod string

const (
	CostMethodMovingAverage CostMethod = "moving_average"
	CostMethodFIFO          CostMethod = "fifo"
)

// String returns the string representation of the cost method
func (m CostMethod) String() string {
	return string(m)
}

// IsValid returns true if the cost method is one the engine supports
func (m CostMethod) IsValid() bool {
	switch m {
	case CostMethodMovingAverage, CostMethodFIFO:
		return true
	default:
		return false
	}
}

// CostScale is the number of decimal places kept by divisions inside
// running costs. Presentation rounding happens elsewhere.
const CostScale int32 = 16

// ReceiveInput describes one receipt applied to a costing strategy.
type ReceiveInput struct {
	Quantity    int64
	UnitCost    decimal.Decimal
	ReceiptDate time.Time
	Reference   string
}

// CostLayer is a FIFO cost tranche created by exactly one receipt.
// A layer with RemainingQty == 0 is exhausted but kept for history.
type CostLayer struct {
	ID               uuid.UUID       `json:"id"`
	ReceiptDate      time.Time       `json:"receipt_date"`
	ReceiptReference string          `json:"receipt_reference"`
	Sequence         int64           `json:"sequence"`
	ReceivedQty      int64           `json:"received_qty"`
	RemainingQty     int64           `json:"remaining_qty"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
}

// IsExhausted returns true if nothing remains in the layer
func (l CostLayer) IsExhausted() bool {
	return l.RemainingQty == 0
}

// LayerDraw records how many units a consumption took from one layer.
type LayerDraw struct {
	LayerID  uuid.UUID       `json:"layer_id"`
	Quantity int64           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Consumption is the cost attributed to a consume call.
type Consumption struct {
	Quantity  int64
	TotalCost decimal.Decimal
	Breakdown []LayerDraw
}

// UnitCost returns the per-unit cost of the consumption
func (c Consumption) UnitCost() decimal.Decimal {
	if c.Quantity == 0 {
		return decimal.Zero
	}
	return c.TotalCost.DivRound(decimal.NewFromInt(c.Quantity), CostScale)
}

// CostingStrategy is the per-product cost state for one costing policy.
// Implementations are not safe for concurrent use; callers serialize
// access per product.
type CostingStrategy interface {
	// Method returns the costing method used by this strategy
	Method() CostMethod
	// Receive adds stock at the given unit cost. FIFO returns the new layer id;
	// moving average returns uuid.Nil.
	Receive(in ReceiveInput) (uuid.UUID, error)
	// Consume removes qty units and returns their cost. When asOf is non-zero,
	// only stock received on or before asOf is eligible. All-or-nothing.
	Consume(qty int64, asOf time.Time) (Consumption, error)
	// CurrentUnitCost returns the single reporting unit cost
	CurrentUnitCost() decimal.Decimal
	// OnHand returns the quantity currently held
	OnHand() int64
	// StockValue returns the value of the quantity currently held
	StockValue() decimal.Decimal
	// LastReceiptDate returns the date of the latest receipt, nil if none
	LastReceiptDate() *time.Time
}

// LayeredStrategy is implemented by strategies that keep cost layers.
type LayeredStrategy interface {
	CostingStrategy
	// Layers returns a copy of all layers in consumption order
	Layers() []CostLayer
}
