package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/erp/costing/internal/domain/shared"
	"github.com/google/uuid"
)

// MovementRepository persists ledger movements.
// Implementations never update or delete a stored movement.
type MovementRepository interface {
	// Create stores a new movement and assigns its Sequence
	Create(ctx context.Context, m *Movement) error

	// ListByProduct returns a product's movements ordered by (OccurredAt, Sequence).
	// When upTo is set, only movements with OccurredAt <= upTo are returned.
	ListByProduct(ctx context.Context, productID uuid.UUID, upTo *time.Time) ([]Movement, error)

	// CountByProduct returns the number of movements stored for a product
	CountByProduct(ctx context.Context, productID uuid.UUID) (int64, error)

	// DistinctProductIDs returns every product that has at least one movement
	DistinctProductIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Ledger is the append-only movement ledger. It owns the historical record
// and enforces that a product's running balance never drops below zero.
// Appends for the same product must be serialized by the caller.
type Ledger struct {
	repo MovementRepository
}

// NewLedger creates a ledger over a movement repository
func NewLedger(repo MovementRepository) *Ledger {
	return &Ledger{repo: repo}
}

// Append validates and stores a movement. The returned movement carries its
// Sequence and RunningBalance.
func (l *Ledger) Append(ctx context.Context, m *Movement) (*Movement, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	existing, err := l.repo.ListByProduct(ctx, m.ProductID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for product %s: %w", m.ProductID, err)
	}

	SortMovements(existing)
	balance, err := CheckAppend(existing, m)
	if err != nil {
		return nil, err
	}

	if err := l.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to append movement: %w", err)
	}
	m.RunningBalance = balance
	return m, nil
}

// ListForProduct returns a product's movements in ledger order with running
// balances filled in. A nil upTo returns the full history.
func (l *Ledger) ListForProduct(ctx context.Context, productID uuid.UUID, upTo *time.Time) ([]Movement, error) {
	movements, err := l.repo.ListByProduct(ctx, productID, upTo)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements for product %s: %w", productID, err)
	}
	SortMovements(movements)
	ApplyRunningBalances(movements)
	return movements, nil
}

// OnHand returns the ledger-derived on-hand quantity for a product
func (l *Ledger) OnHand(ctx context.Context, productID uuid.UUID) (int64, error) {
	movements, err := l.repo.ListByProduct(ctx, productID, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list movements for product %s: %w", productID, err)
	}
	var onHand int64
	for i := range movements {
		onHand += movements[i].SignedQuantity()
	}
	return onHand, nil
}

// Revision returns the number of movements stored for a product. It only
// grows, so any append yields a new revision.
func (l *Ledger) Revision(ctx context.Context, productID uuid.UUID) (int64, error) {
	return l.repo.CountByProduct(ctx, productID)
}

// ProductIDs returns every product with ledger history
func (l *Ledger) ProductIDs(ctx context.Context) ([]uuid.UUID, error) {
	return l.repo.DistinctProductIDs(ctx)
}

// LatestOccurredAt returns the timestamp of the product's latest movement,
// nil when the product has no history.
func LatestOccurredAt(movements []Movement) *time.Time {
	if len(movements) == 0 {
		return nil
	}
	latest := movements[0].OccurredAt
	for i := range movements[1:] {
		if movements[i+1].OccurredAt.After(latest) {
			latest = movements[i+1].OccurredAt
		}
	}
	return &latest
}

// CheckAppend verifies that inserting m into existing keeps every running
// balance non-negative, both at m's position and at every later position.
// existing must be in ledger order. A new movement sorts after every stored
// movement with the same timestamp. Returns m's running balance.
func CheckAppend(existing []Movement, m *Movement) (int64, error) {
	pos := sort.Search(len(existing), func(i int) bool {
		return existing[i].OccurredAt.After(m.OccurredAt)
	})

	var balance int64
	for i := 0; i < pos; i++ {
		balance += existing[i].SignedQuantity()
	}
	balance += m.SignedQuantity()
	if balance < 0 {
		return 0, shared.Errorf(shared.ErrInvalidMovement,
			"movement %s would leave product %s at %d units on %s",
			m.DocumentReference, m.ProductID, balance, m.OccurredAt.Format(time.RFC3339))
	}
	own := balance

	for i := pos; i < len(existing); i++ {
		balance += existing[i].SignedQuantity()
		if balance < 0 {
			return 0, shared.Errorf(shared.ErrInvalidMovement,
				"movement %s would drive later movement %s of product %s to %d units",
				m.DocumentReference, existing[i].DocumentReference, m.ProductID, balance)
		}
	}
	return own, nil
}

// SortMovements orders movements by (OccurredAt, Sequence)
func SortMovements(movements []Movement) {
	sort.SliceStable(movements, func(i, j int) bool {
		return movements[i].Precedes(&movements[j])
	})
}

// ApplyRunningBalances fills RunningBalance on movements already in ledger order
func ApplyRunningBalances(movements []Movement) {
	var balance int64
	for i := range movements {
		balance += movements[i].SignedQuantity()
		movements[i].RunningBalance = balance
	}
}
