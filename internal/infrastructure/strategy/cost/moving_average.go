package cost

import (
	"time"

	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovingAverageCostStrategy tracks on-hand quantity and its exact total
// value for one product. The unit cost is derived from the two on receipt;
// only receipts move the average.
type MovingAverageCostStrategy struct {
	strategy.BaseStrategy
	onHand      int64
	totalValue  decimal.Decimal
	unitCost    decimal.Decimal
	lastReceipt *time.Time
}

// NewMovingAverageCostStrategy creates a tracker at (0, 0)
func NewMovingAverageCostStrategy() *MovingAverageCostStrategy {
	return &MovingAverageCostStrategy{
		BaseStrategy: strategy.NewBaseStrategy(strategy.CostMethodMovingAverage, "Moving weighted average cost"),
		totalValue:   decimal.Zero,
		unitCost:     decimal.Zero,
	}
}

// Receive adds qty*unitCost to the total value and recomputes the weighted
// cost as totalValue / onHand, rounded to CostScale. The total itself is
// never rounded.
func (s *MovingAverageCostStrategy) Receive(in strategy.ReceiveInput) (uuid.UUID, error) {
	if err := validateReceive(in); err != nil {
		return uuid.Nil, err
	}

	inValue := in.UnitCost.Mul(decimal.NewFromInt(in.Quantity))
	if s.onHand == 0 {
		s.totalValue = inValue
		s.unitCost = in.UnitCost
	} else {
		s.totalValue = s.totalValue.Add(inValue)
		s.unitCost = s.totalValue.DivRound(decimal.NewFromInt(s.onHand+in.Quantity), strategy.CostScale)
	}
	s.onHand += in.Quantity

	if s.lastReceipt == nil || in.ReceiptDate.After(*s.lastReceipt) {
		d := in.ReceiptDate
		s.lastReceipt = &d
	}
	return uuid.Nil, nil
}

// Consume removes qty units at the current average. asOf is ignored since an
// average carries no per-receipt tiers.
func (s *MovingAverageCostStrategy) Consume(qty int64, _ time.Time) (strategy.Consumption, error) {
	if qty <= 0 {
		return strategy.Consumption{}, shared.Errorf(shared.ErrInvalidMovement,
			"consumption quantity must be positive, got %d", qty)
	}
	if qty > s.onHand {
		return strategy.Consumption{}, shared.Errorf(shared.ErrInsufficientStock,
			"requested %d units but only %d on hand", qty, s.onHand)
	}

	// Draining the last unit takes the whole remaining value so no rounding
	// residue is left behind.
	cost := s.totalValue
	if qty < s.onHand {
		cost = s.unitCost.Mul(decimal.NewFromInt(qty))
	}
	s.onHand -= qty
	s.totalValue = s.totalValue.Sub(cost)
	return strategy.Consumption{
		Quantity:  qty,
		TotalCost: cost,
	}, nil
}

// CurrentUnitCost returns the running weighted cost
func (s *MovingAverageCostStrategy) CurrentUnitCost() decimal.Decimal {
	return s.unitCost
}

// OnHand returns the tracked quantity
func (s *MovingAverageCostStrategy) OnHand() int64 {
	return s.onHand
}

// StockValue returns the exact value of the quantity on hand
func (s *MovingAverageCostStrategy) StockValue() decimal.Decimal {
	return s.totalValue
}

// LastReceiptDate returns the latest receipt date, nil if none
func (s *MovingAverageCostStrategy) LastReceiptDate() *time.Time {
	if s.lastReceipt == nil {
		return nil
	}
	d := *s.lastReceipt
	return &d
}

var _ strategy.CostingStrategy = (*MovingAverageCostStrategy)(nil)
