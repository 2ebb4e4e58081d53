package domain

import (
	"context"
)

// LotSection is the view of the registry available while one lot row is
// locked. Every call runs inside the same transaction; nothing written through
// it is visible to others until the enclosing section returns nil.
type LotSection interface {
	// Lot returns the locked lot. Mutations to it are persisted by UpdateLot.
	Lot() *Lot

	// ActiveBid returns the lot's leading bid, or nil when there is none.
	ActiveBid(ctx context.Context) (*Bid, error)

	InsertBid(ctx context.Context, b *Bid) error
	UpdateBid(ctx context.Context, b *Bid) error

	// UpdateLot writes price, winner, ends_at, status and bid count, and bumps
	// the lot's version.
	UpdateLot(ctx context.Context, l *Lot) error

	// CreateSale inserts the lot's sale. Returns ErrSaleExists on a duplicate.
	CreateSale(ctx context.Context, s *Sale) error
}
