package handler

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/erp/costing/internal/application/costing"
	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/erp/costing/internal/interfaces/http/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedValuation posts Alpha (fifo, 6 left worth 600) and Beta (moving
// average, 3 worth 60), all in early January 2024.
func seedValuation(t *testing.T) (*testEnv, inventory.Product, inventory.Product) {
	t.Helper()
	alpha := testProduct("Alpha", strategy.CostMethodFIFO)
	beta := testProduct("Beta", strategy.CostMethodMovingAverage)
	env := newTestEnv(t, beta, alpha)

	for _, step := range []struct {
		path string
		body map[string]any
	}{
		{"/api/v1/costing/receipts", receipt(alpha.ID, 10, "100", "2024-01-01", "GRN-1")},
		{"/api/v1/costing/receipts", receipt(beta.ID, 3, "20", "2024-01-01", "GRN-2")},
		{"/api/v1/costing/consumptions", consumption(alpha.ID, 4, "2024-01-02", "INV-1")},
	} {
		w := env.do(t, http.MethodPost, step.path, step.body)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	return env, alpha, beta
}

func valuationPath(query url.Values) string {
	if len(query) == 0 {
		return "/api/v1/valuation"
	}
	return "/api/v1/valuation?" + query.Encode()
}

func TestValuationHandler_List(t *testing.T) {
	env, alpha, beta := seedValuation(t)

	w := env.do(t, http.MethodGet, valuationPath(nil), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[costing.ValuationReport](t, w)
	require.Len(t, resp.Data.Rows, 2)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(2), resp.Meta.Total)

	first, second := resp.Data.Rows[0], resp.Data.Rows[1]
	assert.Equal(t, alpha.ID, first.ProductID)
	assert.Equal(t, int64(6), first.OnHandQty)
	assertDecimal(t, "600", first.StockValue)
	require.NotNil(t, first.AgingBucket)
	assert.Equal(t, inventory.AgingBucketOver90, *first.AgingBucket)
	assert.Equal(t, beta.ID, second.ProductID)
	assertDecimal(t, "60", second.StockValue)

	assert.Equal(t, 2, resp.Data.Summary.Count)
	assert.Equal(t, int64(9), resp.Data.Summary.TotalQuantity)
	assertDecimal(t, "660", resp.Data.Summary.TotalValue)
	assert.False(t, resp.Data.Summary.IsHistorical)
}

func TestValuationHandler_Filters(t *testing.T) {
	env, alpha, beta := seedValuation(t)

	tests := []struct {
		name  string
		query url.Values
		want  []uuid.UUID
	}{
		{"cost method", url.Values{"cost_method": {"moving_average"}}, []uuid.UUID{beta.ID}},
		{"branch", url.Values{"branch_id": {alpha.BranchID.String()}}, []uuid.UUID{alpha.ID}},
		{"supplier", url.Values{"supplier_id": {beta.SupplierID.String()}}, []uuid.UUID{beta.ID}},
		{"search by sku", url.Values{"search": {"sku-alp"}}, []uuid.UUID{alpha.ID}},
		{"aging bucket", url.Values{"aging_bucket": {"90+"}}, []uuid.UUID{alpha.ID, beta.ID}},
		{"aging bucket without match", url.Values{"aging_bucket": {"0-30"}}, nil},
		{"unknown location", url.Values{"location_id": {uuid.NewString()}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, valuationPath(tt.query), nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			resp := decode[costing.ValuationReport](t, w)
			var got []uuid.UUID
			for _, r := range resp.Data.Rows {
				got = append(got, r.ProductID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValuationHandler_Historical(t *testing.T) {
	env, alpha, _ := seedValuation(t)

	w := env.do(t, http.MethodGet, valuationPath(url.Values{"reference_date": {"2024-01-01"}}), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[costing.ValuationReport](t, w)

	require.Len(t, resp.Data.Rows, 2)
	row := resp.Data.Rows[0]
	assert.Equal(t, alpha.ID, row.ProductID)
	assert.Equal(t, int64(10), row.OnHandQty, "the consumption on the 2nd is after the cutoff")
	assertDecimal(t, "1000", row.StockValue)
	require.NotNil(t, row.AgingBucket)
	assert.Equal(t, inventory.AgingBucket0To30, *row.AgingBucket)
	assert.True(t, resp.Data.Summary.IsHistorical)
	assertDecimal(t, "1060", resp.Data.Summary.TotalValue)
}

func TestValuationHandler_InvalidQuery(t *testing.T) {
	env, _, _ := seedValuation(t)

	tests := []struct {
		name  string
		query url.Values
		code  string
	}{
		{"unknown cost method", url.Values{"cost_method": {"lifo"}}, dto.ErrCodeValidation},
		{"unknown aging bucket", url.Values{"aging_bucket": {"120+"}}, dto.ErrCodeValidation},
		{"malformed branch", url.Values{"branch_id": {"main"}}, dto.ErrCodeValidation},
		{"malformed reference date", url.Values{"reference_date": {"Jan 1"}}, dto.ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, valuationPath(tt.query), nil)
			requireAPIError(t, w, http.StatusBadRequest, tt.code)
		})
	}
}

func TestValuationHandler_Export(t *testing.T) {
	env, _, _ := seedValuation(t)

	w := env.do(t, http.MethodGet, "/api/v1/valuation/export?reference_date=2024-01-01", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, costing.CSVContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="valuation-20240101.csv"`, w.Header().Get("Content-Disposition"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(costing.CSVHeader, ","), strings.TrimRight(lines[0], "\r"))
	assert.True(t, strings.HasPrefix(lines[1], "Alpha,SKU-Alpha,"), lines[1])
	assert.Contains(t, lines[1], ",10,100.0000,1000.00,0-30,fifo,2024-01-01")
}

func TestValuationHandler_Archive(t *testing.T) {
	env, _, _ := seedValuation(t)

	w := env.do(t, http.MethodPost, "/api/v1/valuation/export/archive?reference_date=2024-01-01", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[costing.ArchivedReport](t, w)

	assert.True(t, strings.HasPrefix(resp.Data.Key, "valuation/2024-01-01/valuation-20240101-"), resp.Data.Key)
	assert.Equal(t, "memory://reports/"+resp.Data.Key, resp.Data.URL)
	assert.Equal(t, 2, resp.Data.Rows)

	data, contentType, ok := env.archive.Get(resp.Data.Key)
	require.True(t, ok)
	assert.Equal(t, costing.CSVContentType, contentType)
	assert.True(t, strings.HasPrefix(string(data), "Product Name,SKU,"))
}

func TestValuationHandler_ProductAsOf(t *testing.T) {
	env, alpha, _ := seedValuation(t)
	base := "/api/v1/valuation/products/"

	w := env.do(t, http.MethodGet, base+alpha.ID.String()+"?as_of=2024-01-01", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	row := decode[inventory.ValuationRow](t, w)
	assert.Equal(t, int64(10), row.Data.OnHandQty)
	assertDecimal(t, "1000", row.Data.StockValue)

	w = env.do(t, http.MethodGet, base+alpha.ID.String()+"?as_of=2024-01-02", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(6), decode[inventory.ValuationRow](t, w).Data.OnHandQty)

	w = env.do(t, http.MethodGet, base+alpha.ID.String()+"?as_of=2023-12-31", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	before := decode[inventory.ValuationRow](t, w).Data
	assert.Equal(t, int64(0), before.OnHandQty)
	assert.Nil(t, before.AgingBucket)

	w = env.do(t, http.MethodGet, base+alpha.ID.String(), nil)
	requireAPIError(t, w, http.StatusBadRequest, dto.ErrCodeBadRequest)

	w = env.do(t, http.MethodGet, base+"nope?as_of=2024-01-01", nil)
	requireAPIError(t, w, http.StatusBadRequest, dto.ErrCodeBadRequest)

	w = env.do(t, http.MethodGet, base+uuid.NewString()+"?as_of=2024-01-01", nil)
	requireAPIError(t, w, http.StatusNotFound, dto.ErrCodeUnknownProduct)
}
