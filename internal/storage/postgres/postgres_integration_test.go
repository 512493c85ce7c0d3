//go:build integration

package postgres

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-catalog/internal/domain/auth"
	"github.com/xenking/kart-catalog/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "catalog",
				"POSTGRES_PASSWORD": "catalog",
				"POSTGRES_DB":       "catalog",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = container.Terminate(context.Background()) }()

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "container host: %v\n", err)
		return 1
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "container port: %v\n", err)
		return 1
	}

	url := fmt.Sprintf("postgres://catalog:catalog@%s:%s/catalog?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		return 1
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations: %v\n", err)
		return 1
	}
	// Migrations are idempotent.
	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "second migration run: %v\n", err)
		return 1
	}

	return m.Run()
}

func reset(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(t.Context(), `TRUNCATE products, presentations, api_keys RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func mustSaveProduct(t *testing.T, r *ProductRepository, name, price string, presentationID *int64) *product.Product {
	t.Helper()
	p, err := r.Save(t.Context(), &product.Product{
		Name:           name,
		Price:          decimal.RequireFromString(price),
		PresentationID: presentationID,
	})
	require.NoError(t, err)
	return p
}

func names(products []product.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Name
	}
	return out
}

func TestProductRoundTrip(t *testing.T) {
	reset(t)
	ctx := t.Context()
	presentations := NewPresentationRepository(testPool)
	products := NewProductRepository(testPool)

	box, err := presentations.Save(ctx, &product.Presentation{Name: "Box", Description: "cardboard"})
	require.NoError(t, err)
	require.NotZero(t, box.ID)

	image := "ab12cd34-logo.png"
	saved, err := products.Save(ctx, &product.Product{
		Name:           "Widget",
		Description:    "standard",
		Price:          decimal.RequireFromString("9.99"),
		Image:          &image,
		PresentationID: &box.ID,
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	require.NotNil(t, saved.Presentation)
	assert.Equal(t, "Box", saved.Presentation.Name)

	got, err := products.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Name)
	assert.True(t, decimal.RequireFromString("9.99").Equal(got.Price))
	require.NotNil(t, got.Image)
	assert.Equal(t, image, *got.Image)
	assert.Equal(t, saved.CreatedAt.UTC(), got.CreatedAt.UTC())

	_, err = products.GetByID(ctx, saved.ID+1000)
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestProductUpsert(t *testing.T) {
	reset(t)
	ctx := t.Context()
	products := NewProductRepository(testPool)

	image := "c0de-a.png"
	orig, err := products.Save(ctx, &product.Product{Name: "A", Price: decimal.NewFromInt(1), Image: &image})
	require.NoError(t, err)

	// No image in the update keeps the stored one; created_at is untouched.
	updated, err := products.Save(ctx, &product.Product{ID: orig.ID, Name: "A2", Price: decimal.NewFromInt(2)})
	require.NoError(t, err)
	assert.Equal(t, orig.ID, updated.ID)
	assert.Equal(t, "A2", updated.Name)
	require.NotNil(t, updated.Image)
	assert.Equal(t, image, *updated.Image)
	assert.Equal(t, orig.CreatedAt.UTC(), updated.CreatedAt.UTC())

	// An explicit id ahead of the sequence must not collide with later inserts.
	_, err = products.Save(ctx, &product.Product{ID: 50, Name: "Fixed", Price: decimal.NewFromInt(3)})
	require.NoError(t, err)
	next := mustSaveProduct(t, products, "Next", "4", nil)
	assert.Greater(t, next.ID, int64(50))
}

func TestProductUpsertNeverLowersIdentity(t *testing.T) {
	reset(t)
	ctx := t.Context()
	products := NewProductRepository(testPool)

	mustSaveProduct(t, products, "One", "1", nil)
	mustSaveProduct(t, products, "Two", "1", nil)
	third := mustSaveProduct(t, products, "Three", "1", nil)
	require.NoError(t, products.Delete(ctx, third.ID))

	// max(id) is now below the sequence; an upsert must not pull it back.
	_, err := products.Save(ctx, &product.Product{ID: 1, Name: "One again", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	next := mustSaveProduct(t, products, "Four", "1", nil)
	assert.Equal(t, third.ID+1, next.ID)
}

func TestProductConcurrentUpserts(t *testing.T) {
	reset(t)
	ctx := t.Context()
	products := NewProductRepository(testPool)

	g, gCtx := errgroup.WithContext(ctx)
	for id := int64(10); id <= 60; id += 10 {
		g.Go(func() error {
			_, err := products.Save(gCtx, &product.Product{
				ID: id, Name: fmt.Sprintf("Fixed %d", id), Price: decimal.NewFromInt(id),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	for range 3 {
		p := mustSaveProduct(t, products, "Plain", "1", nil)
		assert.Greater(t, p.ID, int64(60))
	}
}

func TestPresentationUpsertAdvancesIdentity(t *testing.T) {
	reset(t)
	ctx := t.Context()
	presentations := NewPresentationRepository(testPool)

	_, err := presentations.Save(ctx, &product.Presentation{ID: 40, Name: "Pallet"})
	require.NoError(t, err)
	next, err := presentations.Save(ctx, &product.Presentation{Name: "Crate"})
	require.NoError(t, err)
	assert.Greater(t, next.ID, int64(40))
}

func TestProductListOrdering(t *testing.T) {
	reset(t)
	ctx := t.Context()
	products := NewProductRepository(testPool)

	mustSaveProduct(t, products, "Bolt", "4.25", nil)
	mustSaveProduct(t, products, "Anvil", "99.00", nil)
	mustSaveProduct(t, products, "Bolt", "1.00", nil)
	mustSaveProduct(t, products, "Clamp", "12.50", nil)

	list, err := products.List(ctx, product.Sort{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Anvil", "Bolt", "Bolt", "Clamp"}, names(list))
	// Equal names fall back to id order.
	assert.Less(t, list[1].ID, list[2].ID)

	sort, err := product.ParseSort("price desc")
	require.NoError(t, err)
	list, err = products.List(ctx, sort)
	require.NoError(t, err)
	assert.Equal(t, []string{"Anvil", "Clamp", "Bolt", "Bolt"}, names(list))

	_, err = products.List(ctx, product.SortBy("weight"))
	var qerr *product.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "weight", qerr.Field)
}

func ids(products []product.Product) []int64 {
	out := make([]int64, len(products))
	for i, p := range products {
		out[i] = p.ID
	}
	return out
}

func TestProductListPage(t *testing.T) {
	reset(t)
	ctx := t.Context()
	products := NewProductRepository(testPool)

	// Duplicate names and prices straddle every page boundary for size 2, so
	// only the id tie-break keeps pages disjoint.
	for _, p := range []struct{ name, price string }{
		{"B", "5"}, {"A", "5"}, {"B", "5"}, {"C", "1"}, {"B", "5"}, {"A", "2"}, {"B", "1"},
	} {
		mustSaveProduct(t, products, p.name, p.price, nil)
	}

	for _, spec := range []string{"", "name", "price desc", "name desc, price"} {
		for _, size := range []int{1, 2, 3, 7, 10} {
			t.Run(fmt.Sprintf("%q/size=%d", spec, size), func(t *testing.T) {
				sort, err := product.ParseSort(spec)
				require.NoError(t, err)
				want, err := products.List(ctx, sort)
				require.NoError(t, err)

				first, err := products.ListPage(ctx, sort, product.PageRequest{Index: 0, Size: size})
				require.NoError(t, err)
				assert.EqualValues(t, len(want), first.Total)
				pages := first.TotalPages()

				var got []product.Product
				seen := map[int64]bool{}
				for index := range pages {
					page, err := products.ListPage(ctx, sort, product.PageRequest{Index: index, Size: size})
					require.NoError(t, err)
					assert.NotEmpty(t, page.Items, "page %d", index)
					for _, p := range page.Items {
						assert.False(t, seen[p.ID], "product %d repeated on page %d", p.ID, index)
						seen[p.ID] = true
					}
					got = append(got, page.Items...)
				}
				assert.Equal(t, ids(want), ids(got))

				past, err := products.ListPage(ctx, sort, product.PageRequest{Index: pages, Size: size})
				require.NoError(t, err)
				assert.Empty(t, past.Items)
				assert.EqualValues(t, len(want), past.Total)
			})
		}
	}

	t.Run("HugeIndex", func(t *testing.T) {
		page, err := products.ListPage(ctx, product.Sort{}, product.PageRequest{Index: math.MaxInt / 2, Size: 100})
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.EqualValues(t, 7, page.Total)
	})

	t.Run("Stable", func(t *testing.T) {
		sort, err := product.ParseSort("name")
		require.NoError(t, err)
		first, err := products.List(ctx, sort)
		require.NoError(t, err)
		second, err := products.List(ctx, sort)
		require.NoError(t, err)
		assert.Equal(t, ids(first), ids(second))
		// Equal names are ordered by id.
		for i := 1; i < len(first); i++ {
			if first[i-1].Name == first[i].Name {
				assert.Less(t, first[i-1].ID, first[i].ID)
			}
		}
	})

	_, err := products.ListPage(ctx, product.Sort{}, product.PageRequest{Index: 0, Size: 0})
	assert.Error(t, err)
}

func TestProductDelete(t *testing.T) {
	reset(t)
	ctx := t.Context()
	products := NewProductRepository(testPool)

	p := mustSaveProduct(t, products, "Gone", "1", nil)
	require.NoError(t, products.Delete(ctx, p.ID))
	assert.ErrorIs(t, products.Delete(ctx, p.ID), product.ErrNotFound)
	_, err := products.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestProductConstraintViolation(t *testing.T) {
	reset(t)
	products := NewProductRepository(testPool)

	missing := int64(404)
	_, err := products.Save(t.Context(), &product.Product{Name: "Orphan", Price: decimal.NewFromInt(1), PresentationID: &missing})
	var perr *product.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.NotEmpty(t, perr.Constraint)
}

func TestPresentationDeleteDetachesProducts(t *testing.T) {
	reset(t)
	ctx := t.Context()
	presentations := NewPresentationRepository(testPool)
	products := NewProductRepository(testPool)

	box, err := presentations.Save(ctx, &product.Presentation{Name: "Box"})
	require.NoError(t, err)
	p := mustSaveProduct(t, products, "Boxed", "2", &box.ID)

	require.NoError(t, presentations.Delete(ctx, box.ID))
	assert.ErrorIs(t, presentations.Delete(ctx, box.ID), product.ErrPresentationNotFound)

	got, err := products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PresentationID)
	assert.Nil(t, got.Presentation)
}

func TestPresentationListAndPage(t *testing.T) {
	reset(t)
	ctx := t.Context()
	presentations := NewPresentationRepository(testPool)

	for _, n := range []string{"Unit", "Bulk", "Box"} {
		_, err := presentations.Save(ctx, &product.Presentation{Name: n})
		require.NoError(t, err)
	}

	list, err := presentations.List(ctx, product.Sort{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Box", list[0].Name)

	page, err := presentations.ListPage(ctx, product.Sort{}, product.PageRequest{Index: 1, Size: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Unit", page.Items[0].Name)

	upserted, err := presentations.Save(ctx, &product.Presentation{ID: list[0].ID, Name: "Crate"})
	require.NoError(t, err)
	assert.Equal(t, list[0].ID, upserted.ID)

	_, err = presentations.GetByID(ctx, 999)
	assert.ErrorIs(t, err, product.ErrPresentationNotFound)
}

func TestAPIKeyLookup(t *testing.T) {
	reset(t)
	ctx := t.Context()
	keys := NewAPIKeyRepository(testPool)

	hash := auth.Hash("secret", []byte("pepper"))
	require.NoError(t, keys.Upsert(ctx, auth.APIKeyInfo{
		ID: "default", KeyHash: hash, Name: "writer", Scopes: []string{auth.ScopeCatalogWrite},
	}))

	info, err := keys.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "default", info.ID)
	assert.True(t, info.HasScope(auth.ScopeCatalogWrite))

	_, err = keys.FindByHash(ctx, "nope")
	assert.ErrorIs(t, err, auth.ErrUnknownKey)

	authn := auth.NewAuthenticator(keys, []byte("pepper"))
	_, err = authn.Authenticate(ctx, "secret", auth.ScopeCatalogWrite)
	require.NoError(t, err)
}
