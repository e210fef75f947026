package costing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/domain/shared/strategy"
	"github.com/erp/costing/internal/infrastructure/logger"
	"github.com/erp/costing/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CostingService is the write path into the ledger. For each product it
// keeps the live costing strategy and serializes every ledger append with
// the matching strategy mutation under the product's lock.
type CostingService struct {
	ledger  *inventory.Ledger
	catalog inventory.ProductCatalog
	factory StrategyFactory
	opts    options

	mu     sync.Mutex
	states map[uuid.UUID]*productState
}

// productState is one product's live cost state. strategy is nil until the
// product is first loaded, and again after a failed rebuild.
type productState struct {
	mu       sync.RWMutex
	strategy strategy.CostingStrategy
}

// NewCostingService creates a new CostingService
func NewCostingService(
	ledger *inventory.Ledger,
	catalog inventory.ProductCatalog,
	factory StrategyFactory,
	opts ...Option,
) *CostingService {
	return &CostingService{
		ledger:  ledger,
		catalog: catalog,
		factory: factory,
		opts:    buildOptions(opts),
		states:  make(map[uuid.UUID]*productState),
	}
}

// Receive posts an IN movement
func (s *CostingService) Receive(ctx context.Context, cmd ReceiveCommand) (*Posting, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "costing", "receive",
		telemetry.SpanAttrProductID, cmd.ProductID,
		telemetry.SpanAttrQuantity, cmd.Quantity,
		telemetry.SpanAttrDocumentRef, cmd.DocumentReference,
	)
	defer span.End()

	m, err := cmd.movement()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	posting, err := s.post(ctx, m)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrBackdated, posting.Backdated)
	return posting, nil
}

// Consume posts an OUT movement and attributes its cost from the product's strategy
func (s *CostingService) Consume(ctx context.Context, cmd ConsumeCommand) (*Posting, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "costing", "consume",
		telemetry.SpanAttrProductID, cmd.ProductID,
		telemetry.SpanAttrQuantity, cmd.Quantity,
		telemetry.SpanAttrDocumentRef, cmd.DocumentReference,
	)
	defer span.End()

	m, err := cmd.movement()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	posting, err := s.post(ctx, m)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrBackdated, posting.Backdated)
	return posting, nil
}

// PostDocument posts each line of a document independently. A failed line
// does not roll back lines already posted; every line gets a result.
func (s *CostingService) PostDocument(ctx context.Context, cmd DocumentCommand) ([]LineResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "costing", "post_document",
		telemetry.SpanAttrDocumentRef, cmd.DocumentReference,
		"line_count", len(cmd.Lines),
	)
	defer span.End()

	if len(cmd.Lines) == 0 {
		err := shared.Errorf(shared.ErrInvalidMovement, "document %q has no lines", cmd.DocumentReference)
		telemetry.RecordError(span, err)
		return nil, err
	}

	results := make([]LineResult, len(cmd.Lines))
	failed := 0
	for i, line := range cmd.Lines {
		results[i].Index = i
		m, err := cmd.lineMovement(line)
		if err == nil {
			results[i].Posting, err = s.post(ctx, m)
		}
		if err != nil {
			results[i].Err = err
			failed++
		}
	}

	logger.WithLogger(ctx, s.opts.logger).Debug("Document posted",
		zap.String("document_reference", cmd.DocumentReference),
		zap.Int("lines", len(cmd.Lines)),
		zap.Int("failed", failed),
	)
	telemetry.SetAttributes(span, "failed_lines", failed)
	return results, nil
}

func (d DocumentCommand) lineMovement(line DocumentLine) (*inventory.Movement, error) {
	dir, err := d.lineDirection(line)
	if err != nil {
		return nil, err
	}
	if dir == inventory.DirectionIn {
		return ReceiveCommand{
			ProductID:         line.ProductID,
			Quantity:          line.Quantity,
			UnitCost:          line.UnitCost,
			OccurredAt:        d.OccurredAt,
			DocumentType:      d.DocumentType,
			DocumentReference: d.DocumentReference,
			BranchID:          d.BranchID,
		}.movement()
	}
	return ConsumeCommand{
		ProductID:         line.ProductID,
		Quantity:          line.Quantity,
		OccurredAt:        d.OccurredAt,
		DocumentType:      d.DocumentType,
		DocumentReference: d.DocumentReference,
		BranchID:          d.BranchID,
	}.movement()
}

// post appends one validated movement under the product's write lock
func (s *CostingService) post(ctx context.Context, m *inventory.Movement) (*Posting, error) {
	product, err := s.catalog.GetByID(ctx, m.ProductID)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithProductID(ctx, product.ID.String())
	ctx = logger.WithDocumentReference(ctx, m.DocumentReference)

	st := s.state(product.ID)
	st.mu.Lock()
	defer st.mu.Unlock()

	existing, err := s.prepareLocked(ctx, st, product)
	if err != nil {
		return nil, err
	}

	latest := inventory.LatestOccurredAt(existing)
	backdated := latest != nil && m.OccurredAt.Before(*latest)

	var posting *Posting
	if m.IsInbound() {
		posting, err = s.receiveLocked(ctx, st, product, m, backdated)
	} else {
		posting, err = s.consumeLocked(ctx, st, product, m, existing, backdated)
	}
	if err != nil {
		return nil, err
	}

	s.opts.metrics.RecordAppend(ctx, string(m.Direction), string(product.CostMethod))
	logger.WithLogger(ctx, s.opts.logger).Debug("Movement posted",
		zap.String("direction", string(m.Direction)),
		zap.Int64("quantity", m.Quantity),
		zap.String("total_cost", posting.Movement.TotalCost.String()),
		zap.Int64("running_balance", posting.Movement.RunningBalance),
		zap.Bool("backdated", backdated),
	)
	return posting, nil
}

func (s *CostingService) receiveLocked(
	ctx context.Context,
	st *productState,
	product *inventory.Product,
	m *inventory.Movement,
	backdated bool,
) (*Posting, error) {
	stored, err := s.ledger.Append(ctx, m)
	if err != nil {
		return nil, err
	}
	posting := &Posting{Movement: *stored, Backdated: backdated}

	if backdated {
		if _, err := s.rebuildLocked(ctx, st, product, telemetry.RebuildReasonBackdated); err != nil {
			return nil, err
		}
		posting.LayerID = layerFor(st.strategy, stored)
	} else {
		layerID, err := st.strategy.Receive(strategy.ReceiveInput{
			Quantity:    stored.Quantity,
			UnitCost:    stored.UnitCost,
			ReceiptDate: stored.OccurredAt,
			Reference:   stored.DocumentReference,
		})
		if err != nil {
			s.reportFault(ctx, product, stored, err)
			if _, err := s.rebuildLocked(ctx, st, product, telemetry.RebuildReasonFault); err != nil {
				return nil, err
			}
			layerID = layerFor(st.strategy, stored)
		}
		posting.LayerID = layerID
	}

	posting.Snapshot = inventory.SnapshotOf(st.strategy)
	return posting, nil
}

func (s *CostingService) consumeLocked(
	ctx context.Context,
	st *productState,
	product *inventory.Product,
	m *inventory.Movement,
	existing []inventory.Movement,
	backdated bool,
) (*Posting, error) {
	prefix := prefixThrough(existing, m.OccurredAt)
	available := balanceOf(prefix)
	if m.Quantity > available {
		return nil, shared.Errorf(shared.ErrInsufficientStock,
			"product %s holds %d units at %s, %d requested",
			product.ID, available, m.OccurredAt.Format(time.RFC3339), m.Quantity)
	}

	var (
		consumption strategy.Consumption
		err         error
	)
	if backdated {
		consumption, err = s.consumeFromPrefix(ctx, product, m, prefix)
	} else {
		consumption, err = s.consumeLive(ctx, st, product, m, available)
	}
	if err != nil {
		return nil, err
	}

	m.AttributeCost(consumption.TotalCost)
	stored, err := s.ledger.Append(ctx, m)
	if err != nil {
		if !backdated {
			// The live strategy already gave up the stock; restore it from the ledger.
			if _, rerr := s.rebuildLocked(ctx, st, product, telemetry.RebuildReasonAppendError); rerr != nil {
				logger.WithLogger(ctx, s.opts.logger).Error("Rebuild after failed append failed", zap.Error(rerr))
			}
		}
		return nil, err
	}

	if backdated {
		if _, err := s.rebuildLocked(ctx, st, product, telemetry.RebuildReasonBackdated); err != nil {
			return nil, err
		}
	}

	return &Posting{
		Movement:  *stored,
		Breakdown: consumption.Breakdown,
		Backdated: backdated,
		Snapshot:  inventory.SnapshotOf(st.strategy),
	}, nil
}

// consumeFromPrefix prices a back-dated consumption against the state the
// ledger had at its position.
func (s *CostingService) consumeFromPrefix(
	ctx context.Context,
	product *inventory.Product,
	m *inventory.Movement,
	prefix []inventory.Movement,
) (strategy.Consumption, error) {
	start := time.Now()
	replayed, err := Replay(s.factory, product.CostMethod, prefix)
	s.opts.metrics.RecordReplay(ctx, string(product.CostMethod), time.Since(start))
	if err != nil {
		return strategy.Consumption{}, err
	}

	consumption, err := replayed.Consume(m.Quantity, m.OccurredAt)
	if errors.Is(err, shared.ErrInsufficientStock) {
		s.reportFault(ctx, product, m, err)
		return strategy.Consumption{}, shared.Errorf(shared.ErrConsistencyFault,
			"replayed cost state of product %s cannot cover %d units the ledger holds", product.ID, m.Quantity)
	}
	return consumption, err
}

// consumeLive consumes from the live strategy. A strategy that refuses stock
// the ledger holds has drifted: it is rebuilt and asked once more.
func (s *CostingService) consumeLive(
	ctx context.Context,
	st *productState,
	product *inventory.Product,
	m *inventory.Movement,
	ledgerOnHand int64,
) (strategy.Consumption, error) {
	consumption, err := st.strategy.Consume(m.Quantity, m.OccurredAt)
	if err == nil || !errors.Is(err, shared.ErrInsufficientStock) {
		return consumption, err
	}

	s.reportFault(ctx, product, m, err, zap.Int64("ledger_on_hand", ledgerOnHand))
	if _, err := s.rebuildLocked(ctx, st, product, telemetry.RebuildReasonFault); err != nil {
		return strategy.Consumption{}, err
	}

	consumption, err = st.strategy.Consume(m.Quantity, m.OccurredAt)
	if err != nil {
		return strategy.Consumption{}, shared.Errorf(shared.ErrConsistencyFault,
			"rebuilt cost state of product %s cannot cover %d of %d ledger units",
			product.ID, m.Quantity, ledgerOnHand)
	}
	return consumption, nil
}

func (s *CostingService) reportFault(
	ctx context.Context,
	product *inventory.Product,
	m *inventory.Movement,
	cause error,
	fields ...zap.Field,
) {
	s.opts.metrics.RecordConsistencyFault(ctx, string(product.CostMethod))
	fields = append(fields,
		zap.String("movement_ref", m.DocumentReference),
		zap.String("cost_method", string(product.CostMethod)),
		zap.Error(cause),
	)
	logger.WithLogger(ctx, s.opts.logger).Error("Cost state disagrees with the movement ledger", fields...)
}

// Rebuild discards a product's live cost state and replays its ledger
func (s *CostingService) Rebuild(ctx context.Context, productID uuid.UUID) (inventory.CostSnapshot, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "costing", "rebuild", telemetry.SpanAttrProductID, productID)
	defer span.End()

	product, err := s.catalog.GetByID(ctx, productID)
	if err != nil {
		telemetry.RecordError(span, err)
		return inventory.CostSnapshot{}, err
	}

	st := s.state(productID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := s.rebuildLocked(logger.WithProductID(ctx, productID.String()), st, product, telemetry.RebuildReasonManual); err != nil {
		telemetry.RecordError(span, err)
		return inventory.CostSnapshot{}, err
	}
	return inventory.SnapshotOf(st.strategy), nil
}

// Warmup rebuilds the live state of every product with ledger history.
// Products missing from the catalog are skipped. Consistency faults are
// collected so one corrupt product does not stop the others.
func (s *CostingService) Warmup(ctx context.Context) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "costing", "warmup")
	defer span.End()

	ids, err := s.ledger.ProductIDs(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to list ledger products: %w", err)
	}

	log := logger.WithLogger(ctx, s.opts.logger)
	var (
		faultsMu sync.Mutex
		faults   []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.workers)
	for _, id := range ids {
		g.Go(func() error {
			product, err := s.catalog.GetByID(gctx, id)
			if errors.Is(err, shared.ErrUnknownProduct) {
				log.Warn("Ledger history for product missing from catalog", zap.String("product_id", id.String()))
				return nil
			}
			if err != nil {
				return err
			}

			st := s.state(id)
			st.mu.Lock()
			defer st.mu.Unlock()

			_, err = s.rebuildLocked(logger.WithProductID(gctx, id.String()), st, product, telemetry.RebuildReasonWarmup)
			if errors.Is(err, shared.ErrConsistencyFault) {
				faultsMu.Lock()
				faults = append(faults, err)
				faultsMu.Unlock()
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	log.Info("Costing state warmed up", zap.Int("products", len(ids)), zap.Int("faults", len(faults)))
	return errors.Join(faults...)
}

// Layers returns a product's FIFO layers and current snapshot
func (s *CostingService) Layers(ctx context.Context, productID uuid.UUID) (*LayersView, error) {
	product, err := s.catalog.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	view := &LayersView{ProductID: productID, Method: product.CostMethod, Layers: []strategy.CostLayer{}}
	err = s.withReadState(ctx, product, func(cs strategy.CostingStrategy) error {
		if layered, ok := cs.(strategy.LayeredStrategy); ok {
			view.Layers = layered.Layers()
		}
		view.Snapshot = inventory.SnapshotOf(cs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// LiveSnapshot reads a product's current cost state under its read lock
func (s *CostingService) LiveSnapshot(ctx context.Context, product *inventory.Product) (inventory.CostSnapshot, error) {
	var snap inventory.CostSnapshot
	err := s.withReadState(ctx, product, func(cs strategy.CostingStrategy) error {
		snap = inventory.SnapshotOf(cs)
		return nil
	})
	return snap, err
}

// Movements lists a product's ledger up to upTo (nil for all)
func (s *CostingService) Movements(ctx context.Context, productID uuid.UUID, upTo *time.Time) ([]inventory.Movement, error) {
	if _, err := s.catalog.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.ledger.ListForProduct(ctx, productID, upTo)
}

func (s *CostingService) state(productID uuid.UUID) *productState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[productID]
	if !ok {
		st = &productState{}
		s.states[productID] = st
	}
	return st
}

// withReadState runs fn against a loaded strategy under the read lock,
// loading or re-keying the state under the write lock first if needed.
func (s *CostingService) withReadState(
	ctx context.Context,
	product *inventory.Product,
	fn func(strategy.CostingStrategy) error,
) error {
	st := s.state(product.ID)

	st.mu.RLock()
	if _, stale := staleReason(st, product); !stale {
		defer st.mu.RUnlock()
		return fn(st.strategy)
	}
	st.mu.RUnlock()

	st.mu.Lock()
	if reason, stale := staleReason(st, product); stale {
		if _, err := s.rebuildLocked(ctx, st, product, reason); err != nil {
			st.mu.Unlock()
			return err
		}
	}
	// Downgrading is not atomic; fn runs on a fresh read lock.
	st.mu.Unlock()

	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.strategy == nil {
		return shared.Errorf(shared.ErrConsistencyFault, "cost state of product %s is unavailable", product.ID)
	}
	return fn(st.strategy)
}

func staleReason(st *productState, product *inventory.Product) (string, bool) {
	switch {
	case st.strategy == nil:
		return telemetry.RebuildReasonWarmup, true
	case st.strategy.Method() != product.CostMethod:
		return telemetry.RebuildReasonPolicy, true
	}
	return "", false
}

// prepareLocked makes sure the state is loaded for the product's current
// policy and returns the product's ledger in order.
func (s *CostingService) prepareLocked(ctx context.Context, st *productState, product *inventory.Product) ([]inventory.Movement, error) {
	if reason, stale := staleReason(st, product); stale {
		return s.rebuildLocked(ctx, st, product, reason)
	}
	return s.ledger.ListForProduct(ctx, product.ID, nil)
}

// rebuildLocked replays the full ledger into a fresh strategy and swaps it
// in. On failure the state is cleared so the next access retries.
// The caller holds st.mu for writing.
func (s *CostingService) rebuildLocked(
	ctx context.Context,
	st *productState,
	product *inventory.Product,
	reason string,
) ([]inventory.Movement, error) {
	movements, err := s.ledger.ListForProduct(ctx, product.ID, nil)
	if err != nil {
		st.strategy = nil
		return nil, err
	}

	start := time.Now()
	rebuilt, err := Replay(s.factory, product.CostMethod, movements)
	s.opts.metrics.RecordReplay(ctx, string(product.CostMethod), time.Since(start))
	if err != nil {
		st.strategy = nil
		logger.WithLogger(ctx, s.opts.logger).Error("Failed to rebuild cost state",
			zap.String("reason", reason), zap.Int("movements", len(movements)), zap.Error(err))
		return nil, err
	}

	st.strategy = rebuilt
	s.opts.metrics.RecordRebuild(ctx, reason)

	log := logger.WithLogger(ctx, s.opts.logger)
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.Int("movements", len(movements)),
		zap.Int64("on_hand", rebuilt.OnHand()),
	}
	if reason == telemetry.RebuildReasonWarmup || reason == telemetry.RebuildReasonBackdated {
		log.Debug("Rebuilt cost state", fields...)
	} else {
		log.Warn("Rebuilt cost state", fields...)
	}
	return movements, nil
}

// layerFor finds the layer created by a stored receipt
func layerFor(cs strategy.CostingStrategy, m *inventory.Movement) uuid.UUID {
	layered, ok := cs.(strategy.LayeredStrategy)
	if !ok {
		return uuid.Nil
	}
	layers := layered.Layers()
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		if l.ReceiptReference == m.DocumentReference && l.ReceiptDate.Equal(m.OccurredAt) && l.ReceivedQty == m.Quantity {
			return l.ID
		}
	}
	return uuid.Nil
}
