package costing

import (
	"errors"
	"sort"
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/domain/shared/strategy"
)

// StrategyFactory builds empty costing strategies by method
type StrategyFactory interface {
	NewCostingStrategy(method strategy.CostMethod) (strategy.CostingStrategy, error)
}

// Replay rebuilds cost state by applying movements, in ledger order, to a
// fresh strategy for method. IN movements are received at their timestamp;
// OUT movements consume only stock received on or before theirs.
//
// The ledger never holds a movement its own history cannot cover, so a
// strategy rejection during replay is reported as ErrConsistencyFault.
func Replay(factory StrategyFactory, method strategy.CostMethod, movements []inventory.Movement) (strategy.CostingStrategy, error) {
	s, err := factory.NewCostingStrategy(method)
	if err != nil {
		return nil, err
	}

	for i := range movements {
		m := &movements[i]
		if err := apply(s, m); err != nil {
			var de *shared.DomainError
			if errors.As(err, &de) {
				return nil, shared.Errorf(shared.ErrConsistencyFault,
					"replay of product %s failed at movement %s (%s): %s",
					m.ProductID, m.ID, m.DocumentReference, de.Message)
			}
			return nil, err
		}
	}
	return s, nil
}

func apply(s strategy.CostingStrategy, m *inventory.Movement) error {
	if m.IsInbound() {
		_, err := s.Receive(strategy.ReceiveInput{
			Quantity:    m.Quantity,
			UnitCost:    m.UnitCost,
			ReceiptDate: m.OccurredAt,
			Reference:   m.DocumentReference,
		})
		return err
	}
	_, err := s.Consume(m.Quantity, m.OccurredAt)
	return err
}

// prefixThrough returns the leading movements that sort at or before t,
// given a slice in ledger order. A new movement at t sorts after all of them.
func prefixThrough(movements []inventory.Movement, t time.Time) []inventory.Movement {
	n := sort.Search(len(movements), func(i int) bool {
		return movements[i].OccurredAt.After(t)
	})
	return movements[:n]
}

// balanceOf sums the signed quantities of movements
func balanceOf(movements []inventory.Movement) int64 {
	var balance int64
	for i := range movements {
		balance += movements[i].SignedQuantity()
	}
	return balance
}
