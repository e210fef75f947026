package inventory

import (
	"time"

	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the sign of a stock movement
type Direction string

const (
	// DirectionIn adds stock (receipts, transfers in)
	DirectionIn Direction = "IN"
	// DirectionOut removes stock (sales, repair usage, transfers out)
	DirectionOut Direction = "OUT"
)

// String returns the string representation of Direction
func (d Direction) String() string {
	return string(d)
}

// IsValid returns true if the direction is IN or OUT
func (d Direction) IsValid() bool {
	return d == DirectionIn || d == DirectionOut
}

// DocumentType identifies the business document that produced a movement
type DocumentType string

const (
	// DocumentTypeReceipt is a goods-received document
	DocumentTypeReceipt DocumentType = "RECEIPT"
	// DocumentTypeSaleInvoice is a sales invoice
	DocumentTypeSaleInvoice DocumentType = "SALE_INVOICE"
	// DocumentTypeRepairUsage is a part consumed by a repair job
	DocumentTypeRepairUsage DocumentType = "REPAIR_USAGE"
	// DocumentTypeAdjustment is a manual stock adjustment, in either direction
	DocumentTypeAdjustment DocumentType = "ADJUSTMENT"
	// DocumentTypeTransferOut is stock sent to another branch
	DocumentTypeTransferOut DocumentType = "TRANSFER_OUT"
	// DocumentTypeTransferIn is stock received from another branch
	DocumentTypeTransferIn DocumentType = "TRANSFER_IN"
)

// String returns the string representation of DocumentType
func (t DocumentType) String() string {
	return string(t)
}

// IsValid returns true if the document type is known
func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentTypeReceipt,
		DocumentTypeSaleInvoice,
		DocumentTypeRepairUsage,
		DocumentTypeAdjustment,
		DocumentTypeTransferOut,
		DocumentTypeTransferIn:
		return true
	}
	return false
}

// Allows returns true if a movement of this document type may have direction d
func (t DocumentType) Allows(d Direction) bool {
	switch t {
	case DocumentTypeReceipt, DocumentTypeTransferIn:
		return d == DirectionIn
	case DocumentTypeSaleInvoice, DocumentTypeRepairUsage, DocumentTypeTransferOut:
		return d == DirectionOut
	case DocumentTypeAdjustment:
		return d.IsValid()
	}
	return false
}

// Movement is an immutable ledger fact. Corrections are appended as
// compensating movements; a stored movement is never updated.
type Movement struct {
	ID                uuid.UUID
	ProductID         uuid.UUID
	Sequence          int64 // insertion order, assigned by the ledger
	OccurredAt        time.Time
	Direction         Direction
	Quantity          int64
	UnitCost          decimal.Decimal // supplied for IN, attributed for OUT
	TotalCost         decimal.Decimal
	DocumentType      DocumentType
	DocumentReference string
	BranchID          *uuid.UUID
	RunningBalance    int64 // on-hand after this movement, derived from ledger order
	CreatedAt         time.Time
}

// NewReceiptMovement creates an IN movement at a known unit cost
func NewReceiptMovement(
	productID uuid.UUID,
	quantity int64,
	unitCost decimal.Decimal,
	occurredAt time.Time,
	docType DocumentType,
	reference string,
) (*Movement, error) {
	m := newMovement(productID, DirectionIn, quantity, occurredAt, docType, reference)
	m.UnitCost = unitCost
	m.TotalCost = unitCost.Mul(decimal.NewFromInt(quantity))
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewConsumptionMovement creates an OUT movement. Its cost is attributed by
// the costing strategy before the movement is appended.
func NewConsumptionMovement(
	productID uuid.UUID,
	quantity int64,
	occurredAt time.Time,
	docType DocumentType,
	reference string,
) (*Movement, error) {
	m := newMovement(productID, DirectionOut, quantity, occurredAt, docType, reference)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func newMovement(
	productID uuid.UUID,
	direction Direction,
	quantity int64,
	occurredAt time.Time,
	docType DocumentType,
	reference string,
) *Movement {
	return &Movement{
		ID:                uuid.New(),
		ProductID:         productID,
		OccurredAt:        occurredAt,
		Direction:         direction,
		Quantity:          quantity,
		UnitCost:          decimal.Zero,
		TotalCost:         decimal.Zero,
		DocumentType:      docType,
		DocumentReference: reference,
		CreatedAt:         time.Now(),
	}
}

// Validate checks the movement's own fields. Balance rules need the rest
// of the ledger and are checked by CheckAppend.
func (m *Movement) Validate() error {
	if m.ProductID == uuid.Nil {
		return shared.Errorf(shared.ErrInvalidMovement, "product ID cannot be empty")
	}
	if !m.Direction.IsValid() {
		return shared.Errorf(shared.ErrInvalidMovement, "invalid direction %q", m.Direction)
	}
	if !m.DocumentType.IsValid() {
		return shared.Errorf(shared.ErrInvalidMovement, "invalid document type %q", m.DocumentType)
	}
	if !m.DocumentType.Allows(m.Direction) {
		return shared.Errorf(shared.ErrInvalidMovement,
			"document type %s cannot produce an %s movement", m.DocumentType, m.Direction)
	}
	if m.Quantity <= 0 {
		return shared.Errorf(shared.ErrInvalidMovement, "quantity must be positive, got %d", m.Quantity)
	}
	if m.DocumentReference == "" {
		return shared.Errorf(shared.ErrInvalidMovement, "document reference cannot be empty")
	}
	if m.UnitCost.IsNegative() {
		return shared.Errorf(shared.ErrInvalidMovement, "unit cost cannot be negative")
	}
	if m.OccurredAt.IsZero() {
		return shared.Errorf(shared.ErrInvalidMovement, "movement timestamp is required")
	}
	return nil
}

// WithBranch sets the branch the movement was posted at
func (m *Movement) WithBranch(branchID uuid.UUID) *Movement {
	m.BranchID = &branchID
	return m
}

// AttributeCost records the cost a strategy assigned to an OUT movement
func (m *Movement) AttributeCost(totalCost decimal.Decimal) {
	m.TotalCost = totalCost
	if m.Quantity > 0 {
		m.UnitCost = totalCost.DivRound(decimal.NewFromInt(m.Quantity), strategy.CostScale)
	}
}

// IsInbound returns true for IN movements
func (m *Movement) IsInbound() bool {
	return m.Direction == DirectionIn
}

// SignedQuantity returns +Quantity for IN and -Quantity for OUT
func (m *Movement) SignedQuantity() int64 {
	if m.Direction == DirectionOut {
		return -m.Quantity
	}
	return m.Quantity
}

// Precedes reports whether m sorts before other in ledger order:
// timestamp first, then insertion sequence.
func (m *Movement) Precedes(other *Movement) bool {
	if !m.OccurredAt.Equal(other.OccurredAt) {
		return m.OccurredAt.Before(other.OccurredAt)
	}
	return m.Sequence < other.Sequence
}
