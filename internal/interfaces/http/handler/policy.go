package handler

import (
	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/gin-gonic/gin"
)

// CostPolicyRegistry lists the costing policies the engine can run
type CostPolicyRegistry interface {
	ListCostMethods() []strategy.CostMethod
	NewCostingStrategy(method strategy.CostMethod) (strategy.CostingStrategy, error)
}

// PolicyHandler describes the registered costing policies and aging buckets
type PolicyHandler struct {
	BaseHandler
	registry CostPolicyRegistry
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(registry CostPolicyRegistry) *PolicyHandler {
	return &PolicyHandler{registry: registry}
}

// CostPolicyInfo describes one registered costing policy
type CostPolicyInfo struct {
	Method      string `json:"method" example:"fifo"`
	Description string `json:"description" example:"First-In-First-Out cost layers"`
	Layered     bool   `json:"layered" example:"true"`
}

// PoliciesResponse lists the values accepted by cost_method and aging_bucket
type PoliciesResponse struct {
	CostMethods  []CostPolicyInfo `json:"cost_methods"`
	AgingBuckets []string         `json:"aging_buckets" example:"0-30,31-60,61-90,90+"`
}

// RegisterRoutes mounts the policy routes under rg
func (h *PolicyHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/costing/policies", h.List)
}

// List godoc
// @ID           listCostingPolicies
// @Summary      List costing policies
// @Description  Returns the registered cost methods and the aging buckets used by valuation filters
// @Tags         costing
// @Produce      json
// @Success      200 {object} APIResponse[PoliciesResponse]
// @Failure      500 {object} ErrorResponse
// @Router       /costing/policies [get]
func (h *PolicyHandler) List(c *gin.Context) {
	methods := h.registry.ListCostMethods()
	resp := PoliciesResponse{
		CostMethods:  make([]CostPolicyInfo, 0, len(methods)),
		AgingBuckets: make([]string, 0, 4),
	}

	for _, m := range methods {
		s, err := h.registry.NewCostingStrategy(m)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		info := CostPolicyInfo{Method: m.String()}
		if d, ok := s.(interface{ Description() string }); ok {
			info.Description = d.Description()
		}
		_, info.Layered = s.(strategy.LayeredStrategy)
		resp.CostMethods = append(resp.CostMethods, info)
	}
	for _, b := range inventory.AllAgingBuckets() {
		resp.AgingBuckets = append(resp.AgingBuckets, b.String())
	}

	h.Success(c, resp)
}
