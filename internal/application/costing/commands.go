package costing

import (
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReceiveCommand posts stock into a product at a known unit cost
type ReceiveCommand struct {
	ProductID         uuid.UUID
	Quantity          int64
	UnitCost          decimal.Decimal
	OccurredAt        time.Time
	DocumentType      inventory.DocumentType // RECEIPT when empty
	DocumentReference string
	BranchID          *uuid.UUID
}

// ConsumeCommand takes stock out of a product at the strategy's cost
type ConsumeCommand struct {
	ProductID         uuid.UUID
	Quantity          int64
	OccurredAt        time.Time
	DocumentType      inventory.DocumentType // SALE_INVOICE when empty
	DocumentReference string
	BranchID          *uuid.UUID
}

// DocumentLine is one product line of a multi-line document
type DocumentLine struct {
	ProductID uuid.UUID
	// Direction defaults from the document type. ADJUSTMENT lines must set it.
	Direction inventory.Direction
	Quantity  int64
	UnitCost  decimal.Decimal // IN lines only
}

// DocumentCommand posts every line of one business document
type DocumentCommand struct {
	DocumentType      inventory.DocumentType
	DocumentReference string
	OccurredAt        time.Time
	BranchID          *uuid.UUID
	Lines             []DocumentLine
}

// Posting is the outcome of one accepted movement
type Posting struct {
	Movement inventory.Movement
	// LayerID is the FIFO layer a receipt created, uuid.Nil otherwise
	LayerID uuid.UUID
	// Breakdown lists the layers a FIFO consumption drew from
	Breakdown []strategy.LayerDraw
	Backdated bool
	Snapshot  inventory.CostSnapshot
}

// LineResult reports one document line. Exactly one of Posting and Err is set.
type LineResult struct {
	Index   int
	Posting *Posting
	Err     error
}

// LayersView is a product's FIFO layers, oldest first. It is empty for
// methods that keep no layers.
type LayersView struct {
	ProductID uuid.UUID
	Method    strategy.CostMethod
	Layers    []strategy.CostLayer
	Snapshot  inventory.CostSnapshot
}

func (c ReceiveCommand) movement() (*inventory.Movement, error) {
	docType := c.DocumentType
	if docType == "" {
		docType = inventory.DocumentTypeReceipt
	}
	m, err := inventory.NewReceiptMovement(c.ProductID, c.Quantity, c.UnitCost, c.OccurredAt, docType, c.DocumentReference)
	if err != nil {
		return nil, err
	}
	if c.BranchID != nil {
		m.WithBranch(*c.BranchID)
	}
	return m, nil
}

func (c ConsumeCommand) movement() (*inventory.Movement, error) {
	docType := c.DocumentType
	if docType == "" {
		docType = inventory.DocumentTypeSaleInvoice
	}
	m, err := inventory.NewConsumptionMovement(c.ProductID, c.Quantity, c.OccurredAt, docType, c.DocumentReference)
	if err != nil {
		return nil, err
	}
	if c.BranchID != nil {
		m.WithBranch(*c.BranchID)
	}
	return m, nil
}

// lineDirection resolves a line's direction from the document type
func (d DocumentCommand) lineDirection(line DocumentLine) (inventory.Direction, error) {
	if line.Direction != "" {
		return line.Direction, nil
	}
	switch d.DocumentType {
	case inventory.DocumentTypeReceipt, inventory.DocumentTypeTransferIn:
		return inventory.DirectionIn, nil
	case inventory.DocumentTypeSaleInvoice, inventory.DocumentTypeRepairUsage, inventory.DocumentTypeTransferOut:
		return inventory.DirectionOut, nil
	}
	return "", shared.Errorf(shared.ErrInvalidMovement,
		"document type %q requires an explicit direction on each line", d.DocumentType)
}
