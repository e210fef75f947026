package handler

import (
	"time"

	"github.com/erp/costing/internal/application/costing"
	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ===================== Requests =====================

// ReceiveRequest posts an IN movement
type ReceiveRequest struct {
	ProductID         string          `json:"product_id" binding:"required,uuid"`
	Quantity          int64           `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	OccurredAt        string          `json:"occurred_at" binding:"required"`
	DocumentType      string          `json:"document_type"`
	DocumentReference string          `json:"document_reference" binding:"required,max=100"`
	BranchID          string          `json:"branch_id" binding:"omitempty,uuid"`
}

// ConsumeRequest posts an OUT movement
type ConsumeRequest struct {
	ProductID         string `json:"product_id" binding:"required,uuid"`
	Quantity          int64  `json:"quantity"`
	OccurredAt        string `json:"occurred_at" binding:"required"`
	DocumentType      string `json:"document_type"`
	DocumentReference string `json:"document_reference" binding:"required,max=100"`
	BranchID          string `json:"branch_id" binding:"omitempty,uuid"`
}

// DocumentLineRequest is one line of a multi-line document
type DocumentLineRequest struct {
	ProductID string          `json:"product_id" binding:"required,uuid"`
	Direction string          `json:"direction" binding:"omitempty,oneof=IN OUT"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// DocumentRequest posts every line of a business document
type DocumentRequest struct {
	DocumentType      string                `json:"document_type" binding:"required"`
	DocumentReference string                `json:"document_reference" binding:"required,max=100"`
	OccurredAt        string                `json:"occurred_at" binding:"required"`
	BranchID          string                `json:"branch_id" binding:"omitempty,uuid"`
	Lines             []DocumentLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// ===================== Responses =====================

// MovementResponse is a ledger movement
type MovementResponse struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"product_id"`
	Sequence          int64           `json:"sequence"`
	OccurredAt        time.Time       `json:"occurred_at"`
	Direction         string          `json:"direction"`
	Quantity          int64           `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	DocumentType      string          `json:"document_type"`
	DocumentReference string          `json:"document_reference"`
	BranchID          *string         `json:"branch_id,omitempty"`
	RunningBalance    int64           `json:"running_balance"`
}

// PostingResponse is the outcome of an accepted movement
type PostingResponse struct {
	Movement  MovementResponse       `json:"movement"`
	LayerID   *string                `json:"layer_id,omitempty"`
	Breakdown []strategy.LayerDraw   `json:"breakdown,omitempty"`
	Backdated bool                   `json:"backdated"`
	Snapshot  inventory.CostSnapshot `json:"snapshot"`
}

// LineResultResponse reports one document line
type LineResultResponse struct {
	Index   int              `json:"index"`
	Success bool             `json:"success"`
	Posting *PostingResponse `json:"posting,omitempty"`
	Error   *LineError       `json:"error,omitempty"`
}

// LineError is the error of a failed document line
type LineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DocumentResponse summarizes a posted document
type DocumentResponse struct {
	DocumentReference string               `json:"document_reference"`
	Posted            int                  `json:"posted"`
	Failed            int                  `json:"failed"`
	Lines             []LineResultResponse `json:"lines"`
}

// LayersResponse lists a product's FIFO layers
type LayersResponse struct {
	ProductID  string                 `json:"product_id"`
	CostMethod string                 `json:"cost_method"`
	Layers     []strategy.CostLayer   `json:"layers"`
	Snapshot   inventory.CostSnapshot `json:"snapshot"`
}

// RebuildResponse is the cost state after a rebuild
type RebuildResponse struct {
	ProductID string                 `json:"product_id"`
	Snapshot  inventory.CostSnapshot `json:"snapshot"`
}

func toMovementResponse(m inventory.Movement) MovementResponse {
	resp := MovementResponse{
		ID:                m.ID.String(),
		ProductID:         m.ProductID.String(),
		Sequence:          m.Sequence,
		OccurredAt:        m.OccurredAt,
		Direction:         string(m.Direction),
		Quantity:          m.Quantity,
		UnitCost:          m.UnitCost,
		TotalCost:         m.TotalCost,
		DocumentType:      string(m.DocumentType),
		DocumentReference: m.DocumentReference,
		RunningBalance:    m.RunningBalance,
	}
	if m.BranchID != nil {
		id := m.BranchID.String()
		resp.BranchID = &id
	}
	return resp
}

func toMovementResponses(movements []inventory.Movement) []MovementResponse {
	out := make([]MovementResponse, len(movements))
	for i := range movements {
		out[i] = toMovementResponse(movements[i])
	}
	return out
}

func toPostingResponse(p *costing.Posting) *PostingResponse {
	resp := &PostingResponse{
		Movement:  toMovementResponse(p.Movement),
		Breakdown: p.Breakdown,
		Backdated: p.Backdated,
		Snapshot:  p.Snapshot,
	}
	if p.LayerID != uuid.Nil {
		id := p.LayerID.String()
		resp.LayerID = &id
	}
	return resp
}
