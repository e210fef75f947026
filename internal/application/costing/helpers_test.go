package costing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/erp/costing/internal/infrastructure/persistence"
	infrastrategy "github.com/erp/costing/internal/infrastructure/strategy"
	"github.com/erp/costing/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var day0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

type fixture struct {
	repo     *persistence.MemoryMovementRepository
	ledger   *inventory.Ledger
	catalog  *persistence.MemoryProductCatalog
	registry *infrastrategy.StrategyRegistry
	metrics  *telemetry.CostingMetrics
	reader   *sdkmetric.ManualReader
	logs     *observer.ObservedLogs
	opts     []Option
	costing  *CostingService
}

func newFixture(t *testing.T, products ...inventory.Product) *fixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	metrics, err := telemetry.NewCostingMetrics(provider.Meter("costing-test"))
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		repo:     persistence.NewMemoryMovementRepository(),
		catalog:  persistence.NewMemoryProductCatalog(products...),
		registry: infrastrategy.NewRegistryWithDefaults(),
		metrics:  metrics,
		reader:   reader,
		logs:     logs,
	}
	f.ledger = inventory.NewLedger(f.repo)
	f.opts = []Option{WithLogger(zap.New(core)), WithMetrics(metrics)}
	f.costing = NewCostingService(f.ledger, f.catalog, f.registry, f.opts...)
	return f
}

func (f *fixture) snapshots(cache inventory.SnapshotCache) *SnapshotService {
	return NewSnapshotService(f.ledger, f.catalog, f.registry, cache, f.opts...)
}

// counter sums an int64 counter's data points carrying attr
func (f *fixture) counter(t *testing.T, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				if v, found := dp.Attributes.Value(attr.Key); found && v == attr.Value {
					total += dp.Value
				}
			}
			return total
		}
	}
	return 0
}

func newProduct(name string, method strategy.CostMethod) inventory.Product {
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

func (f *fixture) receive(t *testing.T, productID uuid.UUID, qty int64, cost string, at time.Time) *Posting {
	t.Helper()
	p, err := f.costing.Receive(context.Background(), ReceiveCommand{
		ProductID:         productID,
		Quantity:          qty,
		UnitCost:          decimal.RequireFromString(cost),
		OccurredAt:        at,
		DocumentReference: fmt.Sprintf("GRN-%s", at.Format("0102")),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) consume(t *testing.T, productID uuid.UUID, qty int64, at time.Time) *Posting {
	t.Helper()
	p, err := f.costing.Consume(context.Background(), ConsumeCommand{
		ProductID:         productID,
		Quantity:          qty,
		OccurredAt:        at,
		DocumentReference: fmt.Sprintf("INV-%s", at.Format("0102")),
	})
	require.NoError(t, err)
	return p
}

// failingFactory hands out strategies that refuse every consumption
type failingFactory struct{}

func (failingFactory) NewCostingStrategy(method strategy.CostMethod) (strategy.CostingStrategy, error) {
	s, err := infrastrategy.NewRegistryWithDefaults().NewCostingStrategy(method)
	if err != nil {
		return nil, err
	}
	return &refusingStrategy{CostingStrategy: s}, nil
}

type refusingStrategy struct {
	strategy.CostingStrategy
}

func (r *refusingStrategy) Consume(qty int64, _ time.Time) (strategy.Consumption, error) {
	return strategy.Consumption{}, shared.Errorf(shared.ErrInsufficientStock, "refusing %d units", qty)
}
