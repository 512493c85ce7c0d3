package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-catalog/internal/domain/product"
)

const (
	productSelect = `SELECT p.id, p.name, p.description, p.price, p.created_at, p.image, p.presentation_id,
		pr.id, pr.name, pr.description, pr.created_at
		FROM products p LEFT JOIN presentations pr ON pr.id = p.presentation_id`

	countProductsSQL = `SELECT count(*) FROM products p LEFT JOIN presentations pr ON pr.id = p.presentation_id`

	getProductByIDSQL = productSelect + ` WHERE p.id = $1`

	insertProductSQL = `INSERT INTO products (name, description, price, image, presentation_id)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	// created_at is never part of the update set; an upsert without a new
	// image keeps the stored one.
	upsertProductSQL = `INSERT INTO products (id, name, description, price, image, presentation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			image = COALESCE(EXCLUDED.image, products.image),
			presentation_id = EXCLUDED.presentation_id`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`
)

var productSort = sortColumns{
	columns: map[string]string{
		"id":                "p.id",
		"name":              "p.name",
		"description":       "p.description",
		"price":             "p.price",
		"createdAt":         "p.created_at",
		"created_at":        "p.created_at",
		"presentation.name": "pr.name",
	},
	fallback: product.SortBy("name"),
	tieBreak: "p.id",
}

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns every product with its presentation, ordered by sort.
func (r *ProductRepository) List(ctx context.Context, sort product.Sort) ([]product.Product, error) {
	order, err := productSort.orderBy(sort)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, productSelect+order)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

// ListPage returns one page of products plus the total count. The count and
// data queries travel in a single batch.
func (r *ProductRepository) ListPage(ctx context.Context, sort product.Sort, page product.PageRequest) (*product.Page[product.Product], error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	order, err := productSort.orderBy(sort)
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	batch.Queue(countProductsSQL)
	batch.Queue(productSelect+order+` LIMIT $1 OFFSET $2`, page.Size, page.Offset())

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	result := &product.Page[product.Product]{Index: page.Index, Size: page.Size}
	if err := br.QueryRow().Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("counting products: %w", err)
	}

	rows, err := br.Query()
	if err != nil {
		return nil, fmt.Errorf("listing products page %d: %w", page.Index, err)
	}
	result.Items, err = pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products page %d: %w", page.Index, err)
	}
	return result, nil
}

// GetByID returns a single product with its presentation, or
// product.ErrNotFound.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	return getProduct(ctx, r.pool, id)
}

// Save inserts p when it has no identity and upserts it by identity
// otherwise. The stored record is read back in the same transaction.
func (r *ProductRepository) Save(ctx context.Context, p *product.Product) (*product.Product, error) {
	op := "insert product"
	if p.ID != 0 {
		op = fmt.Sprintf("upsert product %d", p.ID)
	}

	var saved *product.Product
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		id := p.ID
		if id == 0 {
			if err := tx.QueryRow(ctx, insertProductSQL,
				p.Name, p.Description, p.Price, p.Image, p.PresentationID,
			).Scan(&id); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(ctx, upsertProductSQL,
				p.ID, p.Name, p.Description, p.Price, p.Image, p.PresentationID,
			); err != nil {
				return err
			}
			// A client-chosen id may be ahead of the identity sequence.
			if err := advanceIdentity(ctx, tx, "products"); err != nil {
				return err
			}
		}

		var err error
		saved, err = getProduct(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return saved, nil
}

// Delete removes the product. It returns product.ErrNotFound when the row
// is already gone, including when a concurrent delete won the race.
func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteProductSQL, id)
	if err != nil {
		return persistenceError(fmt.Sprintf("delete product %d", id), err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func getProduct(ctx context.Context, q DBTX, id int64) (*product.Product, error) {
	rows, err := q.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p         product.Product
		prID      *int64
		prName    *string
		prDesc    *string
		prCreated *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.CreatedAt, &p.Image, &p.PresentationID,
		&prID, &prName, &prDesc, &prCreated,
	)
	if err != nil {
		return p, err
	}
	if prID != nil {
		p.Presentation = &product.Presentation{
			ID:          *prID,
			Name:        deref(prName),
			Description: deref(prDesc),
			CreatedAt:   derefTime(prCreated),
		}
	}
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
