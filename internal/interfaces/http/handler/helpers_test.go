package handler

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/costing/internal/application/costing"
	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/erp/costing/internal/infrastructure/persistence"
	"github.com/erp/costing/internal/infrastructure/storage"
	infrastrategy "github.com/erp/costing/internal/infrastructure/strategy"
	"github.com/erp/costing/internal/interfaces/http/dto"
	"github.com/erp/costing/internal/interfaces/http/middleware"
	"github.com/erp/costing/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

type testEnv struct {
	engine  *gin.Engine
	catalog *persistence.MemoryProductCatalog
	archive *storage.MemoryReportArchive
	costing *costing.CostingService
}

func newTestEnv(t *testing.T, products ...inventory.Product) *testEnv {
	t.Helper()

	catalog := persistence.NewMemoryProductCatalog(products...)
	ledger := inventory.NewLedger(persistence.NewMemoryMovementRepository())
	registry := infrastrategy.NewRegistryWithDefaults()
	archive := storage.NewMemoryReportArchive()

	costingSvc := costing.NewCostingService(ledger, catalog, registry)
	snapshots := costing.NewSnapshotService(ledger, catalog, registry, nil)
	valuation := costing.NewValuationService(catalog, costingSvc, snapshots, archive)

	engine := router.NewEngine(router.EngineConfig{})
	NewSystemHandler("costing-engine", "test", nil).RegisterRoutes(engine)
	router.NewRouter(engine).
		Register(NewCostingHandler(costingSvc, time.UTC)).
		Register(NewValuationHandler(valuation, snapshots, time.UTC)).
		Register(NewPolicyHandler(registry)).
		Setup()

	return &testEnv{engine: engine, catalog: catalog, archive: archive, costing: costingSvc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) APIResponse[T] {
	t.Helper()
	var resp APIResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func requireAPIError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) *dto.ErrorInfo {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := decode[any](t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code)
	return resp.Error
}

func testProduct(name string, method strategy.CostMethod) inventory.Product {
	return inventory.Product{
		ID:           uuid.New(),
		SKU:          "SKU-" + name,
		Name:         name,
		CategoryID:   uuid.New(),
		CategoryName: "Parts",
		SupplierID:   uuid.New(),
		SupplierName: "Acme",
		BranchID:     uuid.New(),
		BranchName:   "Main",
		LocationID:   uuid.New(),
		LocationName: "Shelf A",
		CostMethod:   method,
	}
}

func receipt(productID uuid.UUID, qty int64, cost, at, ref string) map[string]any {
	return map[string]any{
		"product_id":         productID.String(),
		"quantity":           qty,
		"unit_cost":          cost,
		"occurred_at":        at,
		"document_reference": ref,
	}
}

func consumption(productID uuid.UUID, qty int64, at, ref string) map[string]any {
	return map[string]any{
		"product_id":         productID.String(),
		"quantity":           qty,
		"occurred_at":        at,
		"document_reference": ref,
	}
}
