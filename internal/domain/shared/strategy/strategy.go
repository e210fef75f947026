package strategy

// BaseStrategy carries the identity shared by every costing strategy.
// Concrete strategies embed it and get Method and Description for free.
type BaseStrategy struct {
	method      CostMethod
	description string
}

// NewBaseStrategy creates a BaseStrategy for method
func NewBaseStrategy(method CostMethod, description string) BaseStrategy {
	return BaseStrategy{method: method, description: description}
}

// Method returns the costing method the strategy implements
func (s BaseStrategy) Method() CostMethod {
	return s.method
}

// Description is a human-readable label
func (s BaseStrategy) Description() string {
	return s.description
}
