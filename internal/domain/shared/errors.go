package shared

import "fmt"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target carries the same error code, so that
// errors.Is(err, ErrInvalidMovement) holds for any INVALID_MOVEMENT error.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a domain error with the code of base and a formatted message.
func Errorf(base *DomainError, format string, args ...any) *DomainError {
	return NewDomainError(base.Code, fmt.Sprintf(format, args...))
}

// ErrInvalidInput is returned for requests that fail basic validation.
var ErrInvalidInput = NewDomainError("INVALID_INPUT", "Invalid input provided")

// Costing engine errors
var (
	// ErrInvalidMovement is returned for malformed or balance-violating movements.
	// Nothing is mutated when it is returned.
	ErrInvalidMovement = NewDomainError("INVALID_MOVEMENT", "Invalid stock movement")
	// ErrInsufficientStock is returned when a consumption exceeds the available cost basis.
	ErrInsufficientStock = NewDomainError("INSUFFICIENT_STOCK", "Insufficient stock available")
	// ErrConsistencyFault signals drift between derived cost state and the ledger.
	ErrConsistencyFault = NewDomainError("CONSISTENCY_FAULT", "Cost state disagrees with the movement ledger")
	// ErrUnknownProduct is returned when reference data has no such product.
	ErrUnknownProduct = NewDomainError("UNKNOWN_PRODUCT", "Unknown product")
	// ErrUnknownCostingPolicy is returned for cost methods with no registered strategy.
	ErrUnknownCostingPolicy = NewDomainError("UNKNOWN_COSTING_POLICY", "Unknown costing policy")
)
