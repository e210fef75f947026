package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/erp/costing/internal/application/costing"
	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValuationQuery holds the listing filters of the valuation endpoints
type ValuationQuery struct {
	BranchID      string `form:"branch_id" binding:"omitempty,uuid"`
	LocationID    string `form:"location_id" binding:"omitempty,uuid"`
	CategoryID    string `form:"category_id" binding:"omitempty,uuid"`
	SupplierID    string `form:"supplier_id" binding:"omitempty,uuid"`
	AgingBucket   string `form:"aging_bucket" binding:"omitempty,oneof=0-30 31-60 61-90 90+"`
	CostMethod    string `form:"cost_method" binding:"omitempty,oneof=fifo moving_average"`
	Search        string `form:"search" binding:"max=100"`
	ReferenceDate string `form:"reference_date"`
}

// ValuationHandler serves valuation listings and exports
type ValuationHandler struct {
	BaseHandler
	valuation *costing.ValuationService
	snapshots *costing.SnapshotService
	location  *time.Location
}

// NewValuationHandler creates a new ValuationHandler
func NewValuationHandler(valuation *costing.ValuationService, snapshots *costing.SnapshotService, loc *time.Location) *ValuationHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ValuationHandler{valuation: valuation, snapshots: snapshots, location: loc}
}

// RegisterRoutes mounts the valuation routes under rg
func (h *ValuationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/valuation")
	g.GET("", h.List)
	g.GET("/export", h.Export)
	g.POST("/export/archive", h.Archive)
	g.GET("/products/:id", h.ProductAsOf)
}

// List godoc
// @ID           listValuation
// @Summary      List stock valuation
// @Description  Returns filtered valuation rows with a summary. Past reference dates are rebuilt from the ledger.
// @Tags         valuation
// @Produce      json
// @Param        branch_id query string false "Branch ID" format(uuid)
// @Param        location_id query string false "Location ID" format(uuid)
// @Param        category_id query string false "Category ID" format(uuid)
// @Param        supplier_id query string false "Supplier ID" format(uuid)
// @Param        aging_bucket query string false "Aging bucket" Enums(0-30, 31-60, 61-90, 90+)
// @Param        cost_method query string false "Costing method" Enums(fifo, moving_average)
// @Param        search query string false "Case-insensitive name or SKU substring" maxlength(100)
// @Param        reference_date query string false "Valuation date, YYYY-MM-DD or RFC3339; defaults to now"
// @Success      200 {object} APIResponse[costing.ValuationReport]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /valuation [get]
func (h *ValuationHandler) List(c *gin.Context) {
	filter, ref, ok := h.bindQuery(c)
	if !ok {
		return
	}

	report, err := h.valuation.ListValuation(c.Request.Context(), filter, ref)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, report, int64(len(report.Rows)))
}

// Export godoc
// @ID           exportValuation
// @Summary      Export stock valuation as CSV
// @Description  Returns the filtered valuation listing as a CSV attachment
// @Tags         valuation
// @Produce      text/csv
// @Param        branch_id query string false "Branch ID" format(uuid)
// @Param        location_id query string false "Location ID" format(uuid)
// @Param        category_id query string false "Category ID" format(uuid)
// @Param        supplier_id query string false "Supplier ID" format(uuid)
// @Param        aging_bucket query string false "Aging bucket" Enums(0-30, 31-60, 61-90, 90+)
// @Param        cost_method query string false "Costing method" Enums(fifo, moving_average)
// @Param        search query string false "Case-insensitive name or SKU substring" maxlength(100)
// @Param        reference_date query string false "Valuation date, YYYY-MM-DD or RFC3339; defaults to now"
// @Success      200 {file} file
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /valuation/export [get]
func (h *ValuationHandler) Export(c *gin.Context) {
	filter, ref, ok := h.bindQuery(c)
	if !ok {
		return
	}

	// Buffered so a failure mid-listing still gets a JSON error.
	var buf bytes.Buffer
	report, err := h.valuation.ExportCSV(c.Request.Context(), filter, ref, &buf)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	filename := fmt.Sprintf("valuation-%s.csv", report.Summary.ReferenceDate.Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, costing.CSVContentType, buf.Bytes())
}

// Archive godoc
// @ID           archiveValuation
// @Summary      Archive a valuation export
// @Description  Stores the CSV export in the report archive and returns a time-limited download link
// @Tags         valuation
// @Produce      json
// @Param        branch_id query string false "Branch ID" format(uuid)
// @Param        location_id query string false "Location ID" format(uuid)
// @Param        category_id query string false "Category ID" format(uuid)
// @Param        supplier_id query string false "Supplier ID" format(uuid)
// @Param        aging_bucket query string false "Aging bucket" Enums(0-30, 31-60, 61-90, 90+)
// @Param        cost_method query string false "Costing method" Enums(fifo, moving_average)
// @Param        search query string false "Case-insensitive name or SKU substring" maxlength(100)
// @Param        reference_date query string false "Valuation date, YYYY-MM-DD or RFC3339; defaults to now"
// @Success      201 {object} APIResponse[costing.ArchivedReport]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /valuation/export/archive [post]
func (h *ValuationHandler) Archive(c *gin.Context) {
	filter, ref, ok := h.bindQuery(c)
	if !ok {
		return
	}

	archived, err := h.valuation.ArchiveReport(c.Request.Context(), filter, ref)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, archived)
}

// ProductAsOf godoc
// @ID           getProductValuationAsOf
// @Summary      Get a product's valuation at a date
// @Description  Reconstructs one product's valuation row by replaying its ledger up to the cutoff
// @Tags         valuation
// @Produce      json
// @Param        id path string true "Product ID" format(uuid)
// @Param        as_of query string true "Cutoff, YYYY-MM-DD (end of day) or RFC3339"
// @Success      200 {object} APIResponse[inventory.ValuationRow]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /valuation/products/{id} [get]
func (h *ValuationHandler) ProductAsOf(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid product ID format")
		return
	}

	raw := c.Query("as_of")
	if raw == "" {
		h.BadRequest(c, "as_of is required")
		return
	}
	asOf, err := parseCutoff(raw, h.location)
	if err != nil {
		h.BadRequest(c, "as_of must be RFC3339 or YYYY-MM-DD")
		return
	}

	row, err := h.snapshots.ValuationAsOf(c.Request.Context(), productID, asOf)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, row)
}

func (h *ValuationHandler) bindQuery(c *gin.Context) (inventory.ValuationFilter, time.Time, bool) {
	var q ValuationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.ValidationError(c, err)
		return inventory.ValuationFilter{}, time.Time{}, false
	}

	filter := inventory.ValuationFilter{
		BranchID:   parseOptionalUUID(q.BranchID),
		LocationID: parseOptionalUUID(q.LocationID),
		CategoryID: parseOptionalUUID(q.CategoryID),
		SupplierID: parseOptionalUUID(q.SupplierID),
		Search:     q.Search,
	}
	if q.AgingBucket != "" {
		b := inventory.AgingBucket(q.AgingBucket)
		filter.AgingBucket = &b
	}
	if q.CostMethod != "" {
		m := strategy.CostMethod(q.CostMethod)
		filter.CostMethod = &m
	}

	var ref time.Time
	if q.ReferenceDate != "" {
		t, _, err := parseDateTime(q.ReferenceDate, h.location)
		if err != nil {
			h.BadRequest(c, "reference_date must be RFC3339 or YYYY-MM-DD")
			return inventory.ValuationFilter{}, time.Time{}, false
		}
		ref = t
	}
	return filter, ref, true
}

// parseOptionalUUID parses an already validated UUID query value
func parseOptionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id := uuid.MustParse(s)
	return &id
}
