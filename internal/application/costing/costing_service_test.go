package costing

import (
	"context"
	"sync"
	"testing"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/erp/costing/internal/infrastructure/strategy/cost"
	"github.com/erp/costing/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCostingService_FIFOScenario(t *testing.T) {
	p := newProduct("Brake Pad", strategy.CostMethodFIFO)
	f := newFixture(t, p)

	first := f.receive(t, p.ID, 50, "1050", day(0))
	assert.NotEqual(t, uuid.Nil, first.LayerID)
	assert.Equal(t, int64(50), first.Movement.RunningBalance)

	out := f.consume(t, p.ID, 40, day(10))
	assert.True(t, decimal.NewFromInt(42000).Equal(out.Movement.TotalCost), "got %s", out.Movement.TotalCost)
	require.Len(t, out.Breakdown, 1)
	assert.Equal(t, first.LayerID, out.Breakdown[0].LayerID)
	assert.Equal(t, int64(10), out.Movement.RunningBalance)

	last := f.receive(t, p.ID, 25, "1100", day(60))
	assert.Equal(t, int64(35), last.Snapshot.OnHand)
	assert.True(t, decimal.NewFromInt(38000).Equal(last.Snapshot.StockValue), "got %s", last.Snapshot.StockValue)
	require.NotNil(t, last.Snapshot.LastReceiptDate)
	assert.True(t, day(60).Equal(*last.Snapshot.LastReceiptDate))

	view, err := f.costing.Layers(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, view.Layers, 2)
	assert.Equal(t, int64(10), view.Layers[0].RemainingQty)
	assert.Equal(t, int64(25), view.Layers[1].RemainingQty)
	assert.Equal(t, last.LayerID, view.Layers[1].ID)
}

func TestCostingService_MovingAverage(t *testing.T) {
	p := newProduct("Oil Filter", strategy.CostMethodMovingAverage)
	f := newFixture(t, p)

	first := f.receive(t, p.ID, 50, "1000", day(0))
	assert.Equal(t, uuid.Nil, first.LayerID)
	f.receive(t, p.ID, 30, "1080", day(1))

	out := f.consume(t, p.ID, 20, day(2))
	assert.True(t, decimal.NewFromInt(20600).Equal(out.Movement.TotalCost), "got %s", out.Movement.TotalCost)
	assert.Empty(t, out.Breakdown)
	assert.True(t, decimal.NewFromInt(1030).Equal(out.Snapshot.UnitCost))
	assert.Equal(t, int64(60), out.Snapshot.OnHand)

	view, err := f.costing.Layers(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Layers)
	assert.Equal(t, strategy.CostMethodMovingAverage, view.Method)
}

func TestCostingService_FIFOConsumeAcrossLayers(t *testing.T) {
	p := newProduct("Spark Plug", strategy.CostMethodFIFO)
	f := newFixture(t, p)

	f.receive(t, p.ID, 10, "100", day(0))
	f.receive(t, p.ID, 10, "110", day(1))

	out := f.consume(t, p.ID, 15, day(2))
	assert.True(t, decimal.NewFromInt(1550).Equal(out.Movement.TotalCost), "got %s", out.Movement.TotalCost)
	require.Len(t, out.Breakdown, 2)
	assert.Equal(t, int64(10), out.Breakdown[0].Quantity)
	assert.Equal(t, int64(5), out.Breakdown[1].Quantity)
}

func TestCostingService_Conservation(t *testing.T) {
	for _, method := range []strategy.CostMethod{strategy.CostMethodFIFO, strategy.CostMethodMovingAverage} {
		t.Run(string(method), func(t *testing.T) {
			p := newProduct("Wiper", method)
			f := newFixture(t, p)

			received := decimal.Zero
			consumed := decimal.Zero
			for i, r := range []struct {
				qty  int64
				cost string
			}{{7, "12.35"}, {11, "13.10"}, {8, "10.20"}} {
				posting := f.receive(t, p.ID, r.qty, r.cost, day(i*2))
				received = received.Add(posting.Movement.TotalCost)
				out := f.consume(t, p.ID, 3, day(i*2+1))
				consumed = consumed.Add(out.Movement.TotalCost)
			}

			snap, err := f.costing.LiveSnapshot(context.Background(), &p)
			require.NoError(t, err)
			assert.Equal(t, int64(17), snap.OnHand)
			assert.True(t, received.Equal(consumed.Add(snap.StockValue)),
				"received %s, consumed %s, remaining %s", received, consumed, snap.StockValue)
		})
	}
}

func TestCostingService_InsufficientStock(t *testing.T) {
	p := newProduct("Belt", strategy.CostMethodFIFO)
	f := newFixture(t, p)
	ctx := context.Background()

	f.receive(t, p.ID, 5, "20", day(0))
	before, err := f.costing.LiveSnapshot(ctx, &p)
	require.NoError(t, err)

	_, err = f.costing.Consume(ctx, ConsumeCommand{ProductID: p.ID, Quantity: 6, OccurredAt: day(1), DocumentReference: "INV-1"})
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)

	after, err := f.costing.LiveSnapshot(ctx, &p)
	require.NoError(t, err)
	assert.Equal(t, before.OnHand, after.OnHand)
	assert.True(t, before.StockValue.Equal(after.StockValue))

	movements, err := f.costing.Movements(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestCostingService_ConsumeBeforeFirstReceipt(t *testing.T) {
	p := newProduct("Hose", strategy.CostMethodFIFO)
	f := newFixture(t, p)

	f.receive(t, p.ID, 10, "5", day(10))

	_, err := f.costing.Consume(context.Background(), ConsumeCommand{ProductID: p.ID, Quantity: 3, OccurredAt: day(5), DocumentReference: "INV-1"})
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestCostingService_BackdatedConsumeCannotBorrowFromLaterHistory(t *testing.T) {
	p := newProduct("Clamp", strategy.CostMethodFIFO)
	f := newFixture(t, p)
	ctx := context.Background()

	f.receive(t, p.ID, 10, "4", day(0))
	f.consume(t, p.ID, 8, day(10))

	// Fits at day 5, but would leave day 10 at -3.
	_, err := f.costing.Consume(ctx, ConsumeCommand{ProductID: p.ID, Quantity: 5, OccurredAt: day(5), DocumentReference: "INV-LATE"})
	assert.ErrorIs(t, err, shared.ErrInvalidMovement)

	snap, err := f.costing.LiveSnapshot(ctx, &p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.OnHand)
	assert.True(t, decimal.NewFromInt(8).Equal(snap.StockValue))
}

func TestCostingService_BackdatedReceipt(t *testing.T) {
	p := newProduct("Gasket", strategy.CostMethodFIFO)
	f := newFixture(t, p)

	f.receive(t, p.ID, 10, "100", day(0))
	f.consume(t, p.ID, 5, day(5))

	late := f.receive(t, p.ID, 10, "200", day(2))
	assert.True(t, late.Backdated)
	assert.NotEqual(t, uuid.Nil, late.LayerID)
	assert.Equal(t, int64(20), late.Movement.RunningBalance)
	assert.Equal(t, int64(15), late.Snapshot.OnHand)
	assert.True(t, decimal.NewFromInt(2500).Equal(late.Snapshot.StockValue), "got %s", late.Snapshot.StockValue)

	movements, err := f.costing.Movements(context.Background(), p.ID, nil)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, inventory.DirectionIn, movements[1].Direction)
	assert.Equal(t, int64(15), movements[2].RunningBalance)
	assert.Equal(t, int64(1), f.counter(t, "costing.rebuilds", telemetry.AttrReason.String(telemetry.RebuildReasonBackdated)))
}

func TestCostingService_BackdatedConsume(t *testing.T) {
	p := newProduct("Bearing", strategy.CostMethodFIFO)
	f := newFixture(t, p)

	f.receive(t, p.ID, 10, "100", day(0))
	f.receive(t, p.ID, 10, "200", day(10))

	out := f.consume(t, p.ID, 8, day(5))
	assert.True(t, out.Backdated)
	assert.True(t, decimal.NewFromInt(800).Equal(out.Movement.TotalCost), "got %s", out.Movement.TotalCost)
	assert.Equal(t, int64(2), out.Movement.RunningBalance)
	assert.Equal(t, int64(12), out.Snapshot.OnHand)
	assert.True(t, decimal.NewFromInt(2200).Equal(out.Snapshot.StockValue), "got %s", out.Snapshot.StockValue)
}

func TestCostingService_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.costing.Receive(context.Background(), ReceiveCommand{
		ProductID:         uuid.New(),
		Quantity:          1,
		UnitCost:          decimal.NewFromInt(1),
		OccurredAt:        day(0),
		DocumentReference: "GRN-1",
	})
	assert.ErrorIs(t, err, shared.ErrUnknownProduct)

	_, err = f.costing.Layers(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrUnknownProduct)
}

func TestCostingService_InvalidMovements(t *testing.T) {
	p := newProduct("Fuse", strategy.CostMethodFIFO)
	f := newFixture(t, p)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"zero receipt", func() error {
			_, err := f.costing.Receive(ctx, ReceiveCommand{ProductID: p.ID, Quantity: 0, UnitCost: decimal.NewFromInt(1), OccurredAt: day(0)})
			return err
		}},
		{"negative cost", func() error {
			_, err := f.costing.Receive(ctx, ReceiveCommand{ProductID: p.ID, Quantity: 1, UnitCost: decimal.NewFromInt(-1), OccurredAt: day(0)})
			return err
		}},
		{"negative consumption", func() error {
			_, err := f.costing.Consume(ctx, ConsumeCommand{ProductID: p.ID, Quantity: -1, OccurredAt: day(0)})
			return err
		}},
		{"receipt as sale", func() error {
			_, err := f.costing.Receive(ctx, ReceiveCommand{
				ProductID: p.ID, Quantity: 1, UnitCost: decimal.NewFromInt(1), OccurredAt: day(0),
				DocumentType: inventory.DocumentTypeSaleInvoice,
			})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), shared.ErrInvalidMovement)
		})
	}

	count, err := f.repo.CountByProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCostingService_PostDocument(t *testing.T) {
	a := newProduct("Alpha", strategy.CostMethodFIFO)
	b := newProduct("Beta", strategy.CostMethodMovingAverage)
	f := newFixture(t, a, b)
	ctx := context.Background()

	results, err := f.costing.PostDocument(ctx, DocumentCommand{
		DocumentType:      inventory.DocumentTypeReceipt,
		DocumentReference: "GRN-100",
		OccurredAt:        day(0),
		Lines: []DocumentLine{
			{ProductID: a.ID, Quantity: 4, UnitCost: decimal.NewFromInt(10)},
			{ProductID: b.ID, Quantity: 6, UnitCost: decimal.NewFromInt(20)},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, "GRN-100", r.Posting.Movement.DocumentReference)
	}

	results, err = f.costing.PostDocument(ctx, DocumentCommand{
		DocumentType:      inventory.DocumentTypeSaleInvoice,
		DocumentReference: "INV-200",
		OccurredAt:        day(1),
		Lines: []DocumentLine{
			{ProductID: a.ID, Quantity: 3},
			{ProductID: b.ID, Quantity: 7},
			{ProductID: uuid.New(), Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	assert.True(t, decimal.NewFromInt(30).Equal(results[0].Posting.Movement.TotalCost))
	assert.ErrorIs(t, results[1].Err, shared.ErrInsufficientStock)
	assert.Nil(t, results[1].Posting)
	assert.ErrorIs(t, results[2].Err, shared.ErrUnknownProduct)
	assert.Equal(t, 2, results[2].Index)

	// The accepted line stays posted.
	snap, err := f.costing.LiveSnapshot(ctx, &a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.OnHand)
}

func TestCostingService_PostDocumentAdjustment(t *testing.T) {
	p := newProduct("Gamma", strategy.CostMethodFIFO)
	f := newFixture(t, p)
	ctx := context.Background()

	results, err := f.costing.PostDocument(ctx, DocumentCommand{
		DocumentType:      inventory.DocumentTypeAdjustment,
		DocumentReference: "ADJ-1",
		OccurredAt:        day(0),
		Lines: []DocumentLine{
			{ProductID: p.ID, Quantity: 2, UnitCost: decimal.NewFromInt(5)},
			{ProductID: p.ID, Direction: inventory.DirectionIn, Quantity: 2, UnitCost: decimal.NewFromInt(5)},
			{ProductID: p.ID, Direction: inventory.DirectionOut, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, shared.ErrInvalidMovement)
	require.NoError(t, results[1].Err)
	require.NoError(t, results[2].Err)
	assert.Equal(t, int64(1), results[2].Posting.Snapshot.OnHand)

	_, err = f.costing.PostDocument(ctx, DocumentCommand{DocumentType: inventory.DocumentTypeReceipt, DocumentReference: "GRN-EMPTY"})
	assert.ErrorIs(t, err, shared.ErrInvalidMovement)
}

func TestCostingService_RebuildsDriftedState(t *testing.T) {
	p := newProduct("Valve", strategy.CostMethodFIFO)
	f := newFixture(t, p)

	f.receive(t, p.ID, 10, "50", day(0))

	// Drop the live state behind the ledger's back.
	f.costing.state(p.ID).strategy = cost.NewFIFOCostStrategy()

	out := f.consume(t, p.ID, 4, day(1))
	assert.True(t, decimal.NewFromInt(200).Equal(out.Movement.TotalCost))
	assert.Equal(t, int64(6), out.Snapshot.OnHand)

	method := telemetry.AttrCostMethod.String(string(strategy.CostMethodFIFO))
	assert.Equal(t, int64(1), f.counter(t, "costing.consistency_faults", method))
	assert.Equal(t, int64(1), f.counter(t, "costing.rebuilds", telemetry.AttrReason.String(telemetry.RebuildReasonFault)))

	faults := f.logs.FilterMessage("Cost state disagrees with the movement ledger").All()
	require.Len(t, faults, 1)
	assert.Equal(t, zap.ErrorLevel, faults[0].Level)
	assert.Equal(t, "INV-0102", faults[0].ContextMap()["movement_ref"])
}

func TestCostingService_UnrecoverableFault(t *testing.T) {
	p := newProduct("Piston", strategy.CostMethodFIFO)
	f := newFixture(t, p)
	svc := NewCostingService(f.ledger, f.catalog, failingFactory{}, f.opts...)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveCommand{ProductID: p.ID, Quantity: 3, UnitCost: decimal.NewFromInt(9), OccurredAt: day(0), DocumentReference: "GRN-1"})
	require.NoError(t, err)

	_, err = svc.Consume(ctx, ConsumeCommand{ProductID: p.ID, Quantity: 1, OccurredAt: day(1), DocumentReference: "INV-X"})
	assert.ErrorIs(t, err, shared.ErrConsistencyFault)

	// Nothing was appended for the refused consumption.
	onHand, err := f.ledger.OnHand(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), onHand)
}

func TestCostingService_Rebuild(t *testing.T) {
	p := newProduct("Rotor", strategy.CostMethodFIFO)
	f := newFixture(t, p)

	f.receive(t, p.ID, 10, "7", day(0))
	f.consume(t, p.ID, 4, day(1))

	snap, err := f.costing.Rebuild(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.OnHand)
	assert.True(t, decimal.NewFromInt(42).Equal(snap.StockValue))
	assert.Equal(t, int64(1), f.counter(t, "costing.rebuilds", telemetry.AttrReason.String(telemetry.RebuildReasonManual)))
}

func TestCostingService_Warmup(t *testing.T) {
	p := newProduct("Strut", strategy.CostMethodMovingAverage)
	f := newFixture(t, p)

	f.receive(t, p.ID, 10, "3", day(0))
	f.consume(t, p.ID, 2, day(1))

	// A product whose history outlived its catalog entry is skipped.
	orphan, err := inventory.NewReceiptMovement(uuid.New(), 1, decimal.NewFromInt(1), day(0), inventory.DocumentTypeReceipt, "GRN-ORPHAN")
	require.NoError(t, err)
	_, err = f.ledger.Append(context.Background(), orphan)
	require.NoError(t, err)

	fresh := NewCostingService(f.ledger, f.catalog, f.registry, f.opts...)
	require.NoError(t, fresh.Warmup(context.Background()))

	st := fresh.state(p.ID)
	require.NotNil(t, st.strategy)
	assert.Equal(t, int64(8), st.strategy.OnHand())
	assert.Equal(t, 1, f.logs.FilterMessage("Ledger history for product missing from catalog").Len())
}

func TestCostingService_WarmupCollectsFaults(t *testing.T) {
	p := newProduct("Shock", strategy.CostMethodFIFO)
	f := newFixture(t, p)

	f.receive(t, p.ID, 10, "3", day(0))
	f.consume(t, p.ID, 2, day(1))

	broken := NewCostingService(f.ledger, f.catalog, failingFactory{}, f.opts...)
	err := broken.Warmup(context.Background())
	assert.ErrorIs(t, err, shared.ErrConsistencyFault)
	assert.Nil(t, broken.state(p.ID).strategy)
}

func TestCostingService_PolicyChange(t *testing.T) {
	p := newProduct("Axle", strategy.CostMethodFIFO)
	f := newFixture(t, p)
	ctx := context.Background()

	f.receive(t, p.ID, 10, "100", day(0))
	f.receive(t, p.ID, 10, "200", day(1))

	p.CostMethod = strategy.CostMethodMovingAverage
	require.NoError(t, f.catalog.Save(ctx, &p))

	out := f.consume(t, p.ID, 10, day(2))
	assert.True(t, decimal.NewFromInt(1500).Equal(out.Movement.TotalCost), "got %s", out.Movement.TotalCost)
	assert.Equal(t, strategy.CostMethodMovingAverage, out.Snapshot.Method)
	assert.Equal(t, int64(1), f.counter(t, "costing.rebuilds", telemetry.AttrReason.String(telemetry.RebuildReasonPolicy)))
}

func TestCostingService_ConcurrentProducts(t *testing.T) {
	const products = 16
	const receipts = 20

	var catalog []inventory.Product
	for i := 0; i < products; i++ {
		method := strategy.CostMethodFIFO
		if i%2 == 1 {
			method = strategy.CostMethodMovingAverage
		}
		catalog = append(catalog, newProduct(uuid.NewString(), method))
	}
	f := newFixture(t, catalog...)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, p := range catalog {
		for i := 0; i < receipts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.costing.Receive(ctx, ReceiveCommand{
					ProductID:         p.ID,
					Quantity:          2,
					UnitCost:          decimal.NewFromInt(int64(10 + i)),
					OccurredAt:        day(i),
					DocumentReference: "GRN-CONCURRENT",
				})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	for _, p := range catalog {
		snap, err := f.costing.LiveSnapshot(ctx, &p)
		require.NoError(t, err)
		assert.Equal(t, int64(2*receipts), snap.OnHand)

		replayed, err := f.snapshots(nil).SnapshotAsOf(ctx, &p, day(receipts))
		require.NoError(t, err)
		assert.Equal(t, snap.OnHand, replayed.OnHand)
		assert.True(t, snap.StockValue.Equal(replayed.StockValue), "live %s, replayed %s", snap.StockValue, replayed.StockValue)
	}
}
