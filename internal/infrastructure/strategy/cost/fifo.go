package cost

import (
	"sort"
	"time"

	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FIFOCostStrategy is the FIFO layer store for a single product.
// Layers are kept in (ReceiptDate, Sequence) order and drained oldest first.
type FIFOCostStrategy struct {
	strategy.BaseStrategy
	layers  []strategy.CostLayer
	nextSeq int64
}

// NewFIFOCostStrategy creates an empty FIFO layer store
func NewFIFOCostStrategy() *FIFOCostStrategy {
	return &FIFOCostStrategy{
		BaseStrategy: strategy.NewBaseStrategy(strategy.CostMethodFIFO, "First-In-First-Out cost layers"),
	}
}

// Receive appends a new layer holding the full received quantity.
// A receipt dated before existing layers is slotted in by date; layers with
// the same date keep creation order.
func (s *FIFOCostStrategy) Receive(in strategy.ReceiveInput) (uuid.UUID, error) {
	if err := validateReceive(in); err != nil {
		return uuid.Nil, err
	}

	s.nextSeq++
	layer := strategy.CostLayer{
		ID:               uuid.New(),
		ReceiptDate:      in.ReceiptDate,
		ReceiptReference: in.Reference,
		Sequence:         s.nextSeq,
		ReceivedQty:      in.Quantity,
		RemainingQty:     in.Quantity,
		UnitCost:         in.UnitCost,
	}

	// Common case: receipts arrive in date order.
	n := len(s.layers)
	if n == 0 || !in.ReceiptDate.Before(s.layers[n-1].ReceiptDate) {
		s.layers = append(s.layers, layer)
		return layer.ID, nil
	}

	idx := sort.Search(n, func(i int) bool {
		return s.layers[i].ReceiptDate.After(in.ReceiptDate)
	})
	s.layers = append(s.layers, strategy.CostLayer{})
	copy(s.layers[idx+1:], s.layers[idx:])
	s.layers[idx] = layer
	return layer.ID, nil
}

// Consume drains qty units from the oldest eligible layers. When asOf is
// non-zero, only layers received on or before asOf are eligible.
// Nothing is mutated if the eligible layers cannot cover qty.
func (s *FIFOCostStrategy) Consume(qty int64, asOf time.Time) (strategy.Consumption, error) {
	if qty <= 0 {
		return strategy.Consumption{}, shared.Errorf(shared.ErrInvalidMovement,
			"consumption quantity must be positive, got %d", qty)
	}

	var available int64
	for _, l := range s.layers {
		if s.eligible(l, asOf) {
			available += l.RemainingQty
		}
	}
	if available < qty {
		return strategy.Consumption{}, shared.Errorf(shared.ErrInsufficientStock,
			"requested %d units but only %d remain in eligible layers", qty, available)
	}

	result := strategy.Consumption{
		Quantity:  qty,
		TotalCost: decimal.Zero,
	}
	remaining := qty
	for i := range s.layers {
		if remaining == 0 {
			break
		}
		l := &s.layers[i]
		if !s.eligible(*l, asOf) {
			continue
		}
		take := min(remaining, l.RemainingQty)
		l.RemainingQty -= take
		remaining -= take
		result.TotalCost = result.TotalCost.Add(l.UnitCost.Mul(decimal.NewFromInt(take)))
		result.Breakdown = append(result.Breakdown, strategy.LayerDraw{
			LayerID:  l.ID,
			Quantity: take,
			UnitCost: l.UnitCost,
		})
	}
	return result, nil
}

func (s *FIFOCostStrategy) eligible(l strategy.CostLayer, asOf time.Time) bool {
	if l.RemainingQty == 0 {
		return false
	}
	return asOf.IsZero() || !l.ReceiptDate.After(asOf)
}

// CurrentUnitCost returns the quantity-weighted cost of the remaining layers,
// or zero when every layer is exhausted.
func (s *FIFOCostStrategy) CurrentUnitCost() decimal.Decimal {
	onHand := s.OnHand()
	if onHand == 0 {
		return decimal.Zero
	}
	return s.StockValue().DivRound(decimal.NewFromInt(onHand), strategy.CostScale)
}

// OnHand returns the sum of remaining quantities
func (s *FIFOCostStrategy) OnHand() int64 {
	var total int64
	for _, l := range s.layers {
		total += l.RemainingQty
	}
	return total
}

// StockValue returns the exact value of the remaining layers
func (s *FIFOCostStrategy) StockValue() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.layers {
		if l.RemainingQty > 0 {
			total = total.Add(l.UnitCost.Mul(decimal.NewFromInt(l.RemainingQty)))
		}
	}
	return total
}

// LastReceiptDate returns the latest layer receipt date, exhausted layers included
func (s *FIFOCostStrategy) LastReceiptDate() *time.Time {
	if len(s.layers) == 0 {
		return nil
	}
	last := s.layers[len(s.layers)-1].ReceiptDate
	return &last
}

// Layers returns a copy of every layer in consumption order
func (s *FIFOCostStrategy) Layers() []strategy.CostLayer {
	out := make([]strategy.CostLayer, len(s.layers))
	copy(out, s.layers)
	return out
}

func validateReceive(in strategy.ReceiveInput) error {
	if in.Quantity <= 0 {
		return shared.Errorf(shared.ErrInvalidMovement,
			"receipt quantity must be positive, got %d", in.Quantity)
	}
	if in.UnitCost.IsNegative() {
		return shared.Errorf(shared.ErrInvalidMovement,
			"receipt unit cost cannot be negative, got %s", in.UnitCost.String())
	}
	return nil
}

var _ strategy.LayeredStrategy = (*FIFOCostStrategy)(nil)
