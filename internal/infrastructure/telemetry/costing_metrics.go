package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Rebuild reasons
const (
	RebuildReasonWarmup      = "warmup"
	RebuildReasonFault       = "consistency_fault"
	RebuildReasonBackdated   = "backdated"
	RebuildReasonAppendError = "append_error"
	RebuildReasonManual      = "manual"
	RebuildReasonPolicy      = "policy_change"
)

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewCostingMetrics", Err: "meter cannot be nil"}

// CostingMetrics holds the engine's instruments. Every method is safe on a
// nil receiver so services can run without metrics.
type CostingMetrics struct {
	movementsAppended *Counter
	consistencyFaults *Counter
	rebuilds          *Counter
	snapshotCache     *Counter
	replayDuration    *Histogram
	valuationRows     *Histogram
}

// NewCostingMetrics creates the costing instruments on meter.
func NewCostingMetrics(meter metric.Meter) (*CostingMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &CostingMetrics{}
	var err error

	if m.movementsAppended, err = NewCounter(meter,
		"costing.movements.appended", "Movements appended to the ledger", "{movement}"); err != nil {
		return nil, err
	}
	if m.consistencyFaults, err = NewCounter(meter,
		"costing.consistency_faults", "Cost state found out of step with the ledger", "{fault}"); err != nil {
		return nil, err
	}
	if m.rebuilds, err = NewCounter(meter,
		"costing.rebuilds", "Product cost states rebuilt from the ledger", "{rebuild}"); err != nil {
		return nil, err
	}
	if m.snapshotCache, err = NewCounter(meter,
		"costing.snapshot.cache", "Snapshot cache lookups", "{lookup}"); err != nil {
		return nil, err
	}
	if m.replayDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "costing.replay.duration",
		Description: "Time to replay a product's ledger into a fresh strategy",
		Unit:        "s",
		Boundaries:  ReplayDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.valuationRows, err = NewHistogram(meter, HistogramOpts{
		Name:        "costing.valuation.rows",
		Description: "Rows returned by a valuation listing",
		Unit:        "{row}",
		Boundaries:  RowCountBuckets,
	}); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAppend counts a movement written to the ledger
func (m *CostingMetrics) RecordAppend(ctx context.Context, direction, method string) {
	if m == nil {
		return
	}
	m.movementsAppended.Inc(ctx, AttrDirection.String(direction), AttrCostMethod.String(method))
}

// RecordConsistencyFault counts a detected drift between cost state and ledger
func (m *CostingMetrics) RecordConsistencyFault(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.consistencyFaults.Inc(ctx, AttrCostMethod.String(method))
}

// RecordRebuild counts a product state rebuild
func (m *CostingMetrics) RecordRebuild(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rebuilds.Inc(ctx, AttrReason.String(reason))
}

// RecordReplay records how long a replay took
func (m *CostingMetrics) RecordReplay(ctx context.Context, method string, d time.Duration) {
	if m == nil {
		return
	}
	m.replayDuration.RecordDuration(ctx, d, AttrCostMethod.String(method))
}

// RecordCacheLookup counts a snapshot cache hit or miss
func (m *CostingMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.snapshotCache.Inc(ctx, AttrResult.String(result))
}

// RecordValuationRows records the size of a valuation listing
func (m *CostingMetrics) RecordValuationRows(ctx context.Context, rows int, historical bool) {
	if m == nil {
		return
	}
	m.valuationRows.Record(ctx, float64(rows), AttrHistorical.Bool(historical))
}
