package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/erp/costing/internal/infrastructure/strategy/cost"
)

// CostStrategyFactory builds an empty per-product costing strategy
type CostStrategyFactory func() strategy.CostingStrategy

// StrategyRegistry maps cost methods to strategy factories
type StrategyRegistry struct {
	mu        sync.RWMutex
	factories map[strategy.CostMethod]CostStrategyFactory
}

// NewStrategyRegistry creates an empty strategy registry
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{
		factories: make(map[strategy.CostMethod]CostStrategyFactory),
	}
}

// NewRegistryWithDefaults creates a registry with FIFO and moving average registered
func NewRegistryWithDefaults() *StrategyRegistry {
	r := NewStrategyRegistry()
	// Both registrations target an empty registry and cannot collide.
	_ = r.RegisterCostStrategy(strategy.CostMethodFIFO, func() strategy.CostingStrategy {
		return cost.NewFIFOCostStrategy()
	})
	_ = r.RegisterCostStrategy(strategy.CostMethodMovingAverage, func() strategy.CostingStrategy {
		return cost.NewMovingAverageCostStrategy()
	})
	return r
}

// RegisterCostStrategy registers a factory for a cost method
func (r *StrategyRegistry) RegisterCostStrategy(method strategy.CostMethod, factory CostStrategyFactory) error {
	if factory == nil {
		return fmt.Errorf("%w: nil factory for cost method '%s'", shared.ErrInvalidInput, method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[method]; exists {
		return fmt.Errorf("%w: cost method '%s' already registered", shared.ErrInvalidInput, method)
	}
	r.factories[method] = factory
	return nil
}

// NewCostingStrategy returns a fresh, empty strategy for the given method
func (r *StrategyRegistry) NewCostingStrategy(method strategy.CostMethod) (strategy.CostingStrategy, error) {
	r.mu.RLock()
	factory, exists := r.factories[method]
	r.mu.RUnlock()

	if !exists {
		return nil, shared.Errorf(shared.ErrUnknownCostingPolicy, "no costing strategy registered for '%s'", method)
	}
	return factory(), nil
}

// ListCostMethods returns all registered cost methods
func (r *StrategyRegistry) ListCostMethods() []strategy.CostMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]strategy.CostMethod, 0, len(r.factories))
	for m := range r.factories {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}
