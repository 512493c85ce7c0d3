package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-catalog/internal/domain/product"
)

const (
	presentationSelect = `SELECT pr.id, pr.name, pr.description, pr.created_at FROM presentations pr`

	countPresentationsSQL = `SELECT count(*) FROM presentations`

	getPresentationByIDSQL = presentationSelect + ` WHERE pr.id = $1`

	insertPresentationSQL = `INSERT INTO presentations (name, description) VALUES ($1, $2)
		RETURNING id, name, description, created_at`

	upsertPresentationSQL = `INSERT INTO presentations (id, name, description) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description
		RETURNING id, name, description, created_at`

	deletePresentationSQL = `DELETE FROM presentations WHERE id = $1`
)

var presentationSort = sortColumns{
	columns: map[string]string{
		"id":          "pr.id",
		"name":        "pr.name",
		"description": "pr.description",
		"createdAt":   "pr.created_at",
		"created_at":  "pr.created_at",
	},
	fallback: product.SortBy("name"),
	tieBreak: "pr.id",
}

var _ product.PresentationRepository = (*PresentationRepository)(nil)

// PresentationRepository implements product.PresentationRepository backed
// by PostgreSQL.
type PresentationRepository struct {
	pool *pgxpool.Pool
}

// NewPresentationRepository returns a PresentationRepository that uses the given pool.
func NewPresentationRepository(pool *pgxpool.Pool) *PresentationRepository {
	return &PresentationRepository{pool: pool}
}

// List returns every presentation ordered by sort.
func (r *PresentationRepository) List(ctx context.Context, sort product.Sort) ([]product.Presentation, error) {
	order, err := presentationSort.orderBy(sort)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, presentationSelect+order)
	if err != nil {
		return nil, fmt.Errorf("listing presentations: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanPresentation)
	if err != nil {
		return nil, fmt.Errorf("listing presentations: %w", err)
	}
	return out, nil
}

// ListPage returns one page of presentations plus the total count.
func (r *PresentationRepository) ListPage(ctx context.Context, sort product.Sort, page product.PageRequest) (*product.Page[product.Presentation], error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	order, err := presentationSort.orderBy(sort)
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	batch.Queue(countPresentationsSQL)
	batch.Queue(presentationSelect+order+` LIMIT $1 OFFSET $2`, page.Size, page.Offset())

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	result := &product.Page[product.Presentation]{Index: page.Index, Size: page.Size}
	if err := br.QueryRow().Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("counting presentations: %w", err)
	}
	rows, err := br.Query()
	if err != nil {
		return nil, fmt.Errorf("listing presentations page %d: %w", page.Index, err)
	}
	result.Items, err = pgx.CollectRows(rows, scanPresentation)
	if err != nil {
		return nil, fmt.Errorf("listing presentations page %d: %w", page.Index, err)
	}
	return result, nil
}

// GetByID returns a presentation or product.ErrPresentationNotFound.
func (r *PresentationRepository) GetByID(ctx context.Context, id int64) (*product.Presentation, error) {
	rows, err := r.pool.Query(ctx, getPresentationByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting presentation %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPresentation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrPresentationNotFound
		}
		return nil, fmt.Errorf("getting presentation %d: %w", id, err)
	}
	return &p, nil
}

// Save inserts or upserts a presentation by identity.
func (r *PresentationRepository) Save(ctx context.Context, p *product.Presentation) (*product.Presentation, error) {
	if p.ID == 0 {
		rows, err := r.pool.Query(ctx, insertPresentationSQL, p.Name, p.Description)
		if err != nil {
			return nil, persistenceError("insert presentation", err)
		}
		saved, err := pgx.CollectExactlyOneRow(rows, scanPresentation)
		if err != nil {
			return nil, persistenceError("insert presentation", err)
		}
		return &saved, nil
	}

	var saved product.Presentation
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, upsertPresentationSQL, p.ID, p.Name, p.Description)
		if err != nil {
			return err
		}
		if saved, err = pgx.CollectExactlyOneRow(rows, scanPresentation); err != nil {
			return err
		}
		return advanceIdentity(ctx, tx, "presentations")
	})
	if err != nil {
		return nil, persistenceError(fmt.Sprintf("upsert presentation %d", p.ID), err)
	}
	return &saved, nil
}

// Delete removes a presentation; products that referenced it keep existing
// without one.
func (r *PresentationRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deletePresentationSQL, id)
	if err != nil {
		return persistenceError(fmt.Sprintf("delete presentation %d", id), err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrPresentationNotFound
	}
	return nil
}

func scanPresentation(row pgx.CollectableRow) (product.Presentation, error) {
	var p product.Presentation
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	return p, err
}
