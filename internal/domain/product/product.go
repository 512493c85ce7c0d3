package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrPresentationNotFound is returned when a requested presentation does not exist.
	ErrPresentationNotFound = errors.New("presentation not found")
)

// Product represents a catalog item, optionally packaged as a Presentation.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	CreatedAt   time.Time
	// Image names a file in the attachment store, nil when no image was uploaded.
	Image *string
	// PresentationID is the foreign key; Presentation is populated by every read.
	PresentationID *int64
	Presentation   *Presentation
}

// Presentation is a packaging or unit variant shared by zero or more products.
type Presentation struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// Repository is the product query layer and record repository.
type Repository interface {
	List(ctx context.Context, sort Sort) ([]Product, error)
	ListPage(ctx context.Context, sort Sort, page PageRequest) (*Page[Product], error)
	GetByID(ctx context.Context, id int64) (*Product, error)
	// Save inserts when p.ID is zero and upserts by p.ID otherwise.
	Save(ctx context.Context, p *Product) (*Product, error)
	// Delete returns ErrNotFound when no row was removed.
	Delete(ctx context.Context, id int64) error
}

// PresentationRepository provides persistence for presentations.
type PresentationRepository interface {
	List(ctx context.Context, sort Sort) ([]Presentation, error)
	ListPage(ctx context.Context, sort Sort, page PageRequest) (*Page[Presentation], error)
	GetByID(ctx context.Context, id int64) (*Presentation, error)
	Save(ctx context.Context, p *Presentation) (*Presentation, error)
	Delete(ctx context.Context, id int64) error
}
