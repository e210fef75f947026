package costing

import (
	"context"
	"errors"
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/infrastructure/logger"
	"github.com/erp/costing/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SnapshotService answers "what was this product worth as of T" by
// replaying the ledger into a fresh strategy. Live state is never touched.
// The optional cache sits in front of replay and is never authoritative.
type SnapshotService struct {
	ledger  *inventory.Ledger
	catalog inventory.ProductCatalog
	factory StrategyFactory
	cache   inventory.SnapshotCache
	group   singleflight.Group
	opts    options
}

// NewSnapshotService creates a new SnapshotService. cache may be nil.
func NewSnapshotService(
	ledger *inventory.Ledger,
	catalog inventory.ProductCatalog,
	factory StrategyFactory,
	cache inventory.SnapshotCache,
	opts ...Option,
) *SnapshotService {
	return &SnapshotService{
		ledger:  ledger,
		catalog: catalog,
		factory: factory,
		cache:   cache,
		opts:    buildOptions(opts),
	}
}

// ValuationAsOf returns the product's valuation row reconstructed at asOf.
// Aging is measured against asOf.
func (s *SnapshotService) ValuationAsOf(ctx context.Context, productID uuid.UUID, asOf time.Time) (inventory.ValuationRow, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "snapshot", "valuation_as_of",
		telemetry.SpanAttrProductID, productID,
		telemetry.SpanAttrAsOf, asOf.Format(time.RFC3339),
	)
	defer span.End()

	product, err := s.catalog.GetByID(ctx, productID)
	if err != nil {
		telemetry.RecordError(span, err)
		return inventory.ValuationRow{}, err
	}

	snap, err := s.SnapshotAsOf(ctx, product, asOf)
	if err != nil {
		telemetry.RecordError(span, err)
		return inventory.ValuationRow{}, err
	}
	return snap.Row(*product, asOf), nil
}

// SnapshotAsOf returns the product's cost state at asOf, from the cache when
// the ledger has not changed since it was computed.
func (s *SnapshotService) SnapshotAsOf(ctx context.Context, product *inventory.Product, asOf time.Time) (inventory.CostSnapshot, error) {
	if s.cache == nil {
		return s.replay(ctx, product, asOf)
	}

	log := logger.WithLogger(ctx, s.opts.logger).With(zap.String("product_id", product.ID.String()))

	// The revision is read before the ledger, so a cached entry is never
	// older than its key.
	revision, err := s.ledger.Revision(ctx, product.ID)
	if err != nil {
		log.Warn("Failed to read ledger revision, bypassing snapshot cache", zap.Error(err))
		return s.replay(ctx, product, asOf)
	}
	key := inventory.SnapshotKey{
		ProductID: product.ID,
		Method:    product.CostMethod,
		AsOf:      asOf,
		Revision:  revision,
	}

	cached, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		log.Warn("Snapshot cache read failed", zap.Error(err))
	case cached != nil:
		s.opts.metrics.RecordCacheLookup(ctx, true)
		return *cached, nil
	}
	s.opts.metrics.RecordCacheLookup(ctx, false)

	// Every caller waiting on key shares this replay; it is detached from
	// the cancellation of the caller that started it.
	detached := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key.String(), func() (any, error) {
		snap, err := s.replay(detached, product, asOf)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(detached, key, snap); err != nil {
			log.Warn("Snapshot cache write failed", zap.Error(err))
		}
		return snap, nil
	})
	if err != nil {
		return inventory.CostSnapshot{}, err
	}
	return v.(inventory.CostSnapshot), nil
}

func (s *SnapshotService) replay(ctx context.Context, product *inventory.Product, asOf time.Time) (inventory.CostSnapshot, error) {
	movements, err := s.ledger.ListForProduct(ctx, product.ID, &asOf)
	if err != nil {
		return inventory.CostSnapshot{}, err
	}

	start := time.Now()
	replayed, err := Replay(s.factory, product.CostMethod, movements)
	s.opts.metrics.RecordReplay(ctx, string(product.CostMethod), time.Since(start))
	if err != nil {
		if errors.Is(err, shared.ErrConsistencyFault) {
			s.opts.metrics.RecordConsistencyFault(ctx, string(product.CostMethod))
			logger.WithLogger(ctx, s.opts.logger).Error("Ledger replay failed",
				zap.String("product_id", product.ID.String()),
				zap.Time("as_of", asOf),
				zap.Int("movements", len(movements)),
				zap.Error(err),
			)
		}
		return inventory.CostSnapshot{}, err
	}
	return inventory.SnapshotOf(replayed), nil
}
