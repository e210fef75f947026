package handler

import (
	"time"

	"github.com/erp/costing/internal/application/costing"
	"github.com/erp/costing/internal/domain/inventory"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CostingHandler exposes the posting side of the engine
type CostingHandler struct {
	BaseHandler
	costing  *costing.CostingService
	location *time.Location
}

// NewCostingHandler creates a new CostingHandler. Bare dates are read in loc.
func NewCostingHandler(svc *costing.CostingService, loc *time.Location) *CostingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &CostingHandler{costing: svc, location: loc}
}

// RegisterRoutes mounts the costing routes under rg
func (h *CostingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/costing")
	g.POST("/receipts", h.Receive)
	g.POST("/consumptions", h.Consume)
	g.POST("/documents", h.PostDocument)
	g.GET("/products/:id/movements", h.Movements)
	g.GET("/products/:id/layers", h.Layers)
	g.POST("/products/:id/rebuild", h.Rebuild)
}

// Receive godoc
// @ID           postCostingReceipt
// @Summary      Post a receipt
// @Description  Appends an IN movement and adds its cost to the product's costing state
// @Tags         costing
// @Accept       json
// @Produce      json
// @Param        request body ReceiveRequest true "Receipt"
// @Success      201 {object} APIResponse[PostingResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /costing/receipts [post]
func (h *CostingHandler) Receive(c *gin.Context) {
	var req ReceiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	occurredAt, _, err := parseDateTime(req.OccurredAt, h.location)
	if err != nil {
		h.BadRequest(c, "occurred_at must be RFC3339 or YYYY-MM-DD")
		return
	}
	branchID, ok := h.optionalUUID(c, req.BranchID)
	if !ok {
		return
	}

	posting, err := h.costing.Receive(c.Request.Context(), costing.ReceiveCommand{
		ProductID:         uuid.MustParse(req.ProductID),
		Quantity:          req.Quantity,
		UnitCost:          req.UnitCost,
		OccurredAt:        occurredAt,
		DocumentType:      inventory.DocumentType(req.DocumentType),
		DocumentReference: req.DocumentReference,
		BranchID:          branchID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toPostingResponse(posting))
}

// Consume godoc
// @ID           postCostingConsumption
// @Summary      Post a consumption
// @Description  Appends an OUT movement costed by the product's costing method
// @Tags         costing
// @Accept       json
// @Produce      json
// @Param        request body ConsumeRequest true "Consumption"
// @Success      201 {object} APIResponse[PostingResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /costing/consumptions [post]
func (h *CostingHandler) Consume(c *gin.Context) {
	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	occurredAt, _, err := parseDateTime(req.OccurredAt, h.location)
	if err != nil {
		h.BadRequest(c, "occurred_at must be RFC3339 or YYYY-MM-DD")
		return
	}
	branchID, ok := h.optionalUUID(c, req.BranchID)
	if !ok {
		return
	}

	posting, err := h.costing.Consume(c.Request.Context(), costing.ConsumeCommand{
		ProductID:         uuid.MustParse(req.ProductID),
		Quantity:          req.Quantity,
		OccurredAt:        occurredAt,
		DocumentType:      inventory.DocumentType(req.DocumentType),
		DocumentReference: req.DocumentReference,
		BranchID:          branchID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toPostingResponse(posting))
}

// PostDocument godoc
// @ID           postCostingDocument
// @Summary      Post a multi-line document
// @Description  Posts each line independently. The response is 200 with per-line outcomes even when some lines fail.
// @Tags         costing
// @Accept       json
// @Produce      json
// @Param        request body DocumentRequest true "Document"
// @Success      200 {object} APIResponse[DocumentResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /costing/documents [post]
func (h *CostingHandler) PostDocument(c *gin.Context) {
	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	occurredAt, _, err := parseDateTime(req.OccurredAt, h.location)
	if err != nil {
		h.BadRequest(c, "occurred_at must be RFC3339 or YYYY-MM-DD")
		return
	}
	branchID, ok := h.optionalUUID(c, req.BranchID)
	if !ok {
		return
	}

	cmd := costing.DocumentCommand{
		DocumentType:      inventory.DocumentType(req.DocumentType),
		DocumentReference: req.DocumentReference,
		OccurredAt:        occurredAt,
		BranchID:          branchID,
		Lines:             make([]costing.DocumentLine, len(req.Lines)),
	}
	for i, line := range req.Lines {
		cmd.Lines[i] = costing.DocumentLine{
			ProductID: uuid.MustParse(line.ProductID),
			Direction: inventory.Direction(line.Direction),
			Quantity:  line.Quantity,
			UnitCost:  line.UnitCost,
		}
	}

	results, err := h.costing.PostDocument(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := DocumentResponse{
		DocumentReference: req.DocumentReference,
		Lines:             make([]LineResultResponse, len(results)),
	}
	for i, r := range results {
		line := LineResultResponse{Index: r.Index}
		if r.Err != nil {
			code, message := errorCode(r.Err)
			line.Error = &LineError{Code: code, Message: message}
			resp.Failed++
		} else {
			line.Success = true
			line.Posting = toPostingResponse(r.Posting)
			resp.Posted++
		}
		resp.Lines[i] = line
	}
	h.Success(c, resp)
}

// Movements godoc
// @ID           listCostingMovements
// @Summary      List a product's movements
// @Description  Returns the product's ledger in order with running balances, optionally up to a cutoff
// @Tags         costing
// @Produce      json
// @Param        id path string true "Product ID" format(uuid)
// @Param        up_to query string false "Cutoff, YYYY-MM-DD (end of day) or RFC3339"
// @Success      200 {object} APIResponse[[]MovementResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /costing/products/{id}/movements [get]
func (h *CostingHandler) Movements(c *gin.Context) {
	productID, ok := h.productID(c)
	if !ok {
		return
	}

	var upTo *time.Time
	if raw := c.Query("up_to"); raw != "" {
		t, err := parseCutoff(raw, h.location)
		if err != nil {
			h.BadRequest(c, "up_to must be RFC3339 or YYYY-MM-DD")
			return
		}
		upTo = &t
	}

	movements, err := h.costing.Movements(c.Request.Context(), productID, upTo)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, toMovementResponses(movements), int64(len(movements)))
}

// Layers godoc
// @ID           getCostingLayers
// @Summary      Get a product's cost layers
// @Description  Returns FIFO layers in consumption order, exhausted layers included. Moving-average products have none.
// @Tags         costing
// @Produce      json
// @Param        id path string true "Product ID" format(uuid)
// @Success      200 {object} APIResponse[LayersResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /costing/products/{id}/layers [get]
func (h *CostingHandler) Layers(c *gin.Context) {
	productID, ok := h.productID(c)
	if !ok {
		return
	}

	view, err := h.costing.Layers(c.Request.Context(), productID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, LayersResponse{
		ProductID:  view.ProductID.String(),
		CostMethod: string(view.Method),
		Layers:     view.Layers,
		Snapshot:   view.Snapshot,
	})
}

// Rebuild godoc
// @ID           rebuildCostingState
// @Summary      Rebuild a product's cost state
// @Description  Discards the live cost state and replays the product's ledger
// @Tags         costing
// @Produce      json
// @Param        id path string true "Product ID" format(uuid)
// @Success      200 {object} APIResponse[RebuildResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /costing/products/{id}/rebuild [post]
func (h *CostingHandler) Rebuild(c *gin.Context) {
	productID, ok := h.productID(c)
	if !ok {
		return
	}

	snap, err := h.costing.Rebuild(c.Request.Context(), productID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, RebuildResponse{ProductID: productID.String(), Snapshot: snap})
}

func (h *CostingHandler) productID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid product ID format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *CostingHandler) optionalUUID(c *gin.Context, raw string) (*uuid.UUID, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.BadRequest(c, "Invalid branch ID format")
		return nil, false
	}
	return &id, true
}
