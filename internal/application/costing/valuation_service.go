package costing

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/domain/shared"
	"github.com/erp/costing/internal/infrastructure/logger"
	"github.com/erp/costing/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LiveSnapshotReader reads a product's current cost state
type LiveSnapshotReader interface {
	LiveSnapshot(ctx context.Context, product *inventory.Product) (inventory.CostSnapshot, error)
}

// HistoricalSnapshotReader reconstructs a product's cost state at a cutoff
type HistoricalSnapshotReader interface {
	SnapshotAsOf(ctx context.Context, product *inventory.Product, asOf time.Time) (inventory.CostSnapshot, error)
}

// ReportArchive stores exported reports and hands out time-limited links
type ReportArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	DownloadURL(ctx context.Context, key string) (string, time.Time, error)
}

// ValuationReport is a filtered valuation listing with its summary
type ValuationReport struct {
	Rows    []inventory.ValuationRow   `json:"rows"`
	Summary inventory.ValuationSummary `json:"summary"`
}

// ArchivedReport locates an exported report in the archive
type ArchivedReport struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Rows      int       `json:"rows"`
}

// CSVContentType is the media type of valuation exports
const CSVContentType = "text/csv; charset=utf-8"

// CSVHeader lists the export columns in order
var CSVHeader = []string{
	"Product Name",
	"SKU",
	"Category",
	"Supplier",
	"Branch",
	"Location",
	"On Hand Qty",
	"Unit Cost",
	"Stock Value",
	"Aging Bucket",
	"Costing Method",
	"Last Receipt Date",
}

// ValuationService builds valuation listings across the catalog. Rows for
// today or later come from live state; earlier dates are reconstructed.
type ValuationService struct {
	catalog   inventory.ProductCatalog
	live      LiveSnapshotReader
	snapshots HistoricalSnapshotReader
	archive   ReportArchive
	opts      options
}

// NewValuationService creates a new ValuationService. archive may be nil,
// in which case ArchiveReport is unavailable.
func NewValuationService(
	catalog inventory.ProductCatalog,
	live LiveSnapshotReader,
	snapshots HistoricalSnapshotReader,
	archive ReportArchive,
	opts ...Option,
) *ValuationService {
	return &ValuationService{
		catalog:   catalog,
		live:      live,
		snapshots: snapshots,
		archive:   archive,
		opts:      buildOptions(opts),
	}
}

// ListValuation returns the rows matching filter at referenceDate, sorted by
// name then SKU, with their summary. A zero referenceDate means now.
func (s *ValuationService) ListValuation(ctx context.Context, filter inventory.ValuationFilter, referenceDate time.Time) (*ValuationReport, error) {
	now := s.opts.clock.Now().In(s.opts.location)
	ref := referenceDate
	if ref.IsZero() {
		ref = now
	}
	ref = ref.In(s.opts.location)
	historical := inventory.IsHistorical(ref, now)

	ctx, span := telemetry.StartServiceSpan(ctx, "valuation", "list",
		telemetry.SpanAttrAsOf, ref.Format(time.RFC3339),
		telemetry.SpanAttrHistorical, historical,
	)
	defer span.End()

	asOf := ref
	if historical {
		asOf = inventory.EndOfDay(ref)
	}

	products, err := s.catalog.List(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	candidates := make([]inventory.Product, 0, len(products))
	for _, p := range products {
		if filter.MatchesProduct(p) {
			candidates = append(candidates, p)
		}
	}

	rows := make([]inventory.ValuationRow, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.workers)
	for i := range candidates {
		g.Go(func() error {
			p := &candidates[i]
			var (
				snap inventory.CostSnapshot
				err  error
			)
			if historical {
				snap, err = s.snapshots.SnapshotAsOf(gctx, p, asOf)
			} else {
				snap, err = s.live.LiveSnapshot(gctx, p)
			}
			if err != nil {
				return fmt.Errorf("valuation of product %s: %w", p.ID, err)
			}
			rows[i] = snap.Row(*p, asOf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	matched := rows[:0]
	for _, r := range rows {
		if filter.Matches(r) {
			matched = append(matched, r)
		}
	}
	inventory.SortRows(matched)

	s.opts.metrics.RecordValuationRows(ctx, len(matched), historical)
	telemetry.SetAttributes(span, telemetry.SpanAttrRowCount, len(matched))

	return &ValuationReport{
		Rows:    matched,
		Summary: inventory.Summarize(matched, ref, historical),
	}, nil
}

// ExportCSV writes the listing for filter and referenceDate as CSV
func (s *ValuationService) ExportCSV(ctx context.Context, filter inventory.ValuationFilter, referenceDate time.Time, w io.Writer) (*ValuationReport, error) {
	report, err := s.ListValuation(ctx, filter, referenceDate)
	if err != nil {
		return nil, err
	}
	if err := WriteCSV(w, report.Rows); err != nil {
		return nil, fmt.Errorf("failed to write valuation CSV: %w", err)
	}
	return report, nil
}

// ArchiveReport exports the listing to the report archive and returns a
// time-limited download link.
func (s *ValuationService) ArchiveReport(ctx context.Context, filter inventory.ValuationFilter, referenceDate time.Time) (*ArchivedReport, error) {
	if s.archive == nil {
		return nil, shared.Errorf(shared.ErrInvalidInput, "report archive is not configured")
	}

	var buf bytes.Buffer
	report, err := s.ExportCSV(ctx, filter, referenceDate, &buf)
	if err != nil {
		return nil, err
	}

	ref := report.Summary.ReferenceDate
	key := fmt.Sprintf("valuation/%s/valuation-%s-%s.csv",
		ref.Format("2006-01-02"), ref.Format("20060102"), uuid.NewString())

	if err := s.archive.Put(ctx, key, buf.Bytes(), CSVContentType); err != nil {
		return nil, fmt.Errorf("failed to archive valuation report: %w", err)
	}
	url, expires, err := s.archive.DownloadURL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign valuation report link: %w", err)
	}

	logger.WithLogger(ctx, s.opts.logger).Info("Valuation report archived",
		zap.String("key", key),
		zap.Int("rows", len(report.Rows)),
	)
	return &ArchivedReport{Key: key, URL: url, ExpiresAt: expires, Rows: len(report.Rows)}, nil
}

// WriteCSV writes rows under CSVHeader. Unit cost has 4 decimals and stock
// value 2; missing aging and receipt dates are left blank.
func WriteCSV(w io.Writer, rows []inventory.ValuationRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		aging := ""
		if r.AgingBucket != nil {
			aging = r.AgingBucket.String()
		}
		lastReceipt := ""
		if r.LastReceiptDate != nil {
			lastReceipt = r.LastReceiptDate.In(r.AsOf.Location()).Format("2006-01-02")
		}
		if err := cw.Write([]string{
			r.Name,
			r.SKU,
			r.CategoryName,
			r.SupplierName,
			r.BranchName,
			r.LocationName,
			strconv.FormatInt(r.OnHandQty, 10),
			r.UnitCost.StringFixed(4),
			r.StockValue.StringFixed(2),
			aging,
			r.CostMethod.String(),
			lastReceipt,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
