package catalog

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-catalog/internal/domain/product"
	"github.com/xenking/kart-catalog/internal/storage/filestore"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID    map[int64]*product.Product
	nextID  int64
	saved   []*product.Product
	saveErr error
	getErr  error
	deletes int
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	m := &mockProductRepo{byID: map[int64]*product.Product{}, nextID: 100}
	for i := range products {
		m.byID[products[i].ID] = &products[i]
	}
	return m
}

func (m *mockProductRepo) List(context.Context, product.Sort) ([]product.Product, error) {
	out := make([]product.Product, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockProductRepo) ListPage(_ context.Context, _ product.Sort, page product.PageRequest) (*product.Page[product.Product], error) {
	return &product.Page[product.Product]{Index: page.Index, Size: page.Size, Total: int64(len(m.byID))}, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id int64) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) Save(_ context.Context, p *product.Product) (*product.Product, error) {
	m.saved = append(m.saved, p)
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	out := *p
	if out.ID == 0 {
		m.nextID++
		out.ID = m.nextID
	} else if prev, ok := m.byID[out.ID]; ok && out.Image == nil {
		out.Image = prev.Image
	}
	m.byID[out.ID] = &out
	return &out, nil
}

func (m *mockProductRepo) Delete(_ context.Context, id int64) error {
	m.deletes++
	if _, ok := m.byID[id]; !ok {
		return product.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

type mockPresentationRepo struct {
	byID  map[int64]*product.Presentation
	saved *product.Presentation
}

func (m *mockPresentationRepo) List(context.Context, product.Sort) ([]product.Presentation, error) {
	return nil, nil
}

func (m *mockPresentationRepo) ListPage(context.Context, product.Sort, product.PageRequest) (*product.Page[product.Presentation], error) {
	return &product.Page[product.Presentation]{}, nil
}

func (m *mockPresentationRepo) GetByID(_ context.Context, id int64) (*product.Presentation, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrPresentationNotFound
	}
	return p, nil
}

func (m *mockPresentationRepo) Save(_ context.Context, p *product.Presentation) (*product.Presentation, error) {
	m.saved = p
	out := *p
	if out.ID == 0 {
		out.ID = 7
	}
	return &out, nil
}

func (m *mockPresentationRepo) Delete(_ context.Context, id int64) error {
	delete(m.byID, id)
	return nil
}

type mockAttachments struct {
	files   map[string][]byte
	saveErr error
}

func (m *mockAttachments) Save(_ context.Context, name string, content io.Reader) (filestore.StoredFile, error) {
	if m.saveErr != nil {
		return filestore.StoredFile{}, m.saveErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return filestore.StoredFile{}, err
	}
	stored := "c0de" + "-" + name
	m.files[stored] = data
	return filestore.StoredFile{Name: stored, Size: int64(len(data))}, nil
}

func (m *mockAttachments) Open(_ context.Context, name string) (*filestore.File, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, filestore.ErrNotFound
	}
	return &filestore.File{
		Content: io.NopCloser(bytes.NewReader(data)),
		Info:    filestore.Info{Name: name, Size: int64(len(data))},
	}, nil
}

// --- Helpers ---

func ptr[T any](v T) *T { return &v }

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fixture struct {
	products      *mockProductRepo
	presentations *mockPresentationRepo
	files         *mockAttachments
	svc           *Service
}

func newFixture(products ...product.Product) *fixture {
	f := &fixture{
		products: newProductRepo(products...),
		presentations: &mockPresentationRepo{byID: map[int64]*product.Presentation{
			1: {ID: 1, Name: "Box"},
		}},
		files: &mockAttachments{files: map[string][]byte{}},
	}
	f.svc = NewService(f.products, f.presentations, f.files, "/api/products/files/")
	return f
}

// --- Tests ---

func TestService_CreateWithoutUpload(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Create(context.Background(), product.Draft{Name: "Widget", Price: price("9.99")}, nil)
	require.NoError(t, err)
	assert.Positive(t, res.Product.ID)
	assert.Equal(t, "Widget", res.Product.Name)
	assert.True(t, decimal.RequireFromString("9.99").Equal(res.Product.Price))
	assert.Nil(t, res.Product.Image)
	assert.Nil(t, res.File)
	assert.Empty(t, f.files.files)
}

func TestService_CreateWithUpload(t *testing.T) {
	f := newFixture()
	png := []byte{0x89, 0x50, 0x4e, 0x47}

	res, err := f.svc.Create(context.Background(),
		product.Draft{Name: "Widget", Price: price("9.99"), PresentationID: ptr(int64(1))},
		&Upload{Name: "logo.png", Content: bytes.NewReader(png)},
	)
	require.NoError(t, err)
	require.NotNil(t, res.File)
	assert.Equal(t, "c0de-logo.png", res.File.Name)
	assert.Equal(t, "/api/products/files/c0de-logo.png", res.File.DownloadURI)
	assert.Equal(t, int64(4), res.File.Size)
	require.NotNil(t, res.Product.Image)
	assert.Equal(t, "c0de-logo.png", *res.Product.Image)

	file, err := f.svc.Download(context.Background(), res.File.Name)
	require.NoError(t, err)
	got, err := io.ReadAll(file.Content)
	require.NoError(t, err)
	assert.Equal(t, png, got)
}

func TestService_CreateValidation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), product.Draft{Name: " "},
		&Upload{Name: "logo.png", Content: strings.NewReader("x")})
	var verr *product.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 2)
	assert.Empty(t, f.files.files, "nothing is stored for a rejected draft")
	assert.Empty(t, f.products.saved)
}

func TestService_CreateRejectsClientID(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), product.Draft{ID: 5, Name: "Widget", Price: price("1")}, nil)
	var verr *product.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"id: must not be set on create"}, verr.Messages())
}

func TestService_CreateAggregatesViolations(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(),
		product.Draft{ID: 7, Name: " ", Price: price("-1"), PresentationID: ptr(int64(42))},
		&Upload{Name: "logo.png", Content: strings.NewReader("x")},
	)
	var verr *product.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"name: must not be blank",
		"price: must be greater than or equal to 0",
		"id: must not be set on create",
		"presentationId: presentation 42 does not exist",
	}, verr.Messages())
	assert.Empty(t, f.files.files)
	assert.Empty(t, f.products.saved)
}

func TestService_CreateRejectsUnstorablePrice(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), product.Draft{Name: "Widget", Price: price("1e11")}, nil)
	var verr *product.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"price: must be less than or equal to 9999999999.99"}, verr.Messages())
	assert.Empty(t, f.products.saved)
}

func TestService_UpdateAggregatesViolations(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Update(context.Background(), 0, product.Draft{Name: " ", Price: price("1")}, nil)
	var verr *product.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"name: must not be blank",
		"id: must be greater than 0",
	}, verr.Messages())
}

func TestService_CreateUnknownPresentation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(),
		product.Draft{Name: "Widget", Price: price("1"), PresentationID: ptr(int64(42))},
		&Upload{Name: "logo.png", Content: strings.NewReader("x")},
	)
	var verr *product.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "presentationId", verr.Violations[0].Field)
	assert.Empty(t, f.files.files)
}

func TestService_CreateStoreFailureSkipsRecord(t *testing.T) {
	f := newFixture()
	f.files.saveErr = &filestore.InvalidNameError{Name: "../x", Reason: "contains a path separator"}

	_, err := f.svc.Create(context.Background(), product.Draft{Name: "Widget", Price: price("1")},
		&Upload{Name: "../x", Content: strings.NewReader("x")})
	var nameErr *filestore.InvalidNameError
	require.ErrorAs(t, err, &nameErr)
	assert.Empty(t, f.products.saved, "record must not reference a file that was not stored")
}

func TestService_CreatePersistenceFailureLeavesFile(t *testing.T) {
	f := newFixture()
	f.products.saveErr = &product.PersistenceError{Op: "insert product", Err: errors.New("conn reset")}

	_, err := f.svc.Create(context.Background(), product.Draft{Name: "Widget", Price: price("1")},
		&Upload{Name: "logo.png", Content: strings.NewReader("x")})
	var perr *product.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Len(t, f.files.files, 1)
}

func TestService_UpdateBindsPathID(t *testing.T) {
	img := "old-logo.png"
	f := newFixture(product.Product{ID: 3, Name: "Old", Image: &img})

	res, err := f.svc.Update(context.Background(), 3, product.Draft{ID: 99, Name: "New", Price: price("2.50")}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Product.ID)
	assert.Equal(t, "New", res.Product.Name)
	require.NotNil(t, res.Product.Image)
	assert.Equal(t, "old-logo.png", *res.Product.Image)
	assert.Nil(t, res.File)
	assert.Nil(t, f.products.saved[0].Image, "image is left to the repository to keep")
}

func TestService_UpdateReplacesImage(t *testing.T) {
	img := "old-logo.png"
	f := newFixture(product.Product{ID: 3, Name: "Old", Image: &img})

	res, err := f.svc.Update(context.Background(), 3, product.Draft{Name: "New", Price: price("2.50")},
		&Upload{Name: "new.png", Content: strings.NewReader("new")})
	require.NoError(t, err)
	assert.Equal(t, "c0de-new.png", *res.Product.Image)
	assert.Equal(t, "c0de-new.png", res.File.Name)
}

func TestService_UpdateInvalidID(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Update(context.Background(), 0, product.Draft{Name: "New", Price: price("1")}, nil)
	var verr *product.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(product.Product{ID: 3, Name: "Widget"})

	require.NoError(t, f.svc.Delete(ctx, 3))
	require.ErrorIs(t, f.svc.Delete(ctx, 3), product.ErrNotFound)
	assert.Equal(t, 1, f.products.deletes, "missing record is reported before delete")
}

func TestService_DeleteLookupFault(t *testing.T) {
	f := newFixture(product.Product{ID: 3})
	boom := errors.New("connection refused")
	f.products.getErr = boom

	err := f.svc.Delete(context.Background(), 3)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.products.deletes)
}

func TestService_DownloadMissing(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Download(context.Background(), "nope.png")
	require.ErrorIs(t, err, filestore.ErrNotFound)
}

func TestService_SavePresentation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	created, err := f.svc.SavePresentation(ctx, 0, product.PresentationDraft{Name: "Pack of 6"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), created.ID)

	_, err = f.svc.SavePresentation(ctx, 0, product.PresentationDraft{ID: 2, Name: "Pack"})
	var verr *product.ValidationError
	require.ErrorAs(t, err, &verr)

	updated, err := f.svc.SavePresentation(ctx, 1, product.PresentationDraft{ID: 9, Name: "Crate"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.ID)
	assert.Equal(t, "Crate", f.presentations.saved.Name)
}

func TestService_SavePresentationAggregatesViolations(t *testing.T) {
	f := newFixture()

	_, err := f.svc.SavePresentation(context.Background(), 0, product.PresentationDraft{ID: 3, Name: ""})
	var verr *product.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"name: must not be blank",
		"id: must not be set on create",
	}, verr.Messages())
}

func TestService_DeletePresentation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.svc.DeletePresentation(ctx, 1))
	require.ErrorIs(t, f.svc.DeletePresentation(ctx, 1), product.ErrPresentationNotFound)
}
