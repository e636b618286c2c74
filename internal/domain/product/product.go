package product

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrConflict is returned by conditional writes when the product changed
	// (or was claimed by another rule) since it was read.
	ErrConflict = errors.New("product was modified concurrently")
)

// Product is a catalog item together with the discount terms currently
// applied to it.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    []string
	Images      []string
	Rating      decimal.Decimal
	Price       decimal.Decimal
	Stock       int64

	// ActiveDiscountID references the rule that claimed this product.
	// Empty means no rule has claimed it.
	ActiveDiscountID   string
	DiscountPercentage decimal.Decimal
	DiscountedPrice    decimal.Decimal
	DiscountValidUntil *time.Time

	// Version is bumped by every discount write and guards conditional updates.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Discounted reports whether some rule already holds this product.
func (p Product) Discounted() bool {
	return p.ActiveDiscountID != "" || p.DiscountedPrice.IsPositive()
}

// Discount holds the terms written onto a product when a rule claims it.
type Discount struct {
	RuleID          string
	Percentage      decimal.Decimal
	DiscountedPrice decimal.Decimal
	ValidUntil      time.Time
}

// Page selects a window of the catalog.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip. Page numbers below 1 are
// treated as the first page; offsets that would overflow saturate at
// math.MaxInt, which selects an empty page.
func (p Page) Offset() int {
	if p.Number < 1 || p.Size <= 0 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}

// Repository defines catalog access used by the discount engine and the
// read-only product endpoints.
type Repository interface {
	// ListNewestFirst returns the full catalog ordered by creation time,
	// newest first. The returned slice is a snapshot owned by the caller.
	ListNewestFirst(ctx context.Context) ([]Product, error)
	// ListPage returns one page of the catalog, newest first.
	ListPage(ctx context.Context, page Page) ([]Product, error)
	// Search returns one page of the products having a category that
	// contains term, case-insensitively, newest first.
	Search(ctx context.Context, term string, page Page) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the products matching ids in the order of ids.
	// Unknown ids are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// ApplyDiscount writes d onto the product if its version still equals
	// version and it is not discounted yet. Returns ErrConflict otherwise.
	ApplyDiscount(ctx context.Context, id string, version int64, d Discount) error
}
