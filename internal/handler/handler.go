// Package handler exposes the catalog over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/kart-catalog/internal/domain/auth"
	"github.com/xenking/kart-catalog/internal/domain/catalog"
	"github.com/xenking/kart-catalog/internal/domain/product"
	"github.com/xenking/kart-catalog/internal/storage/filestore"
)

// Catalog is the set of use cases served by the Handler.
type Catalog interface {
	List(ctx context.Context, sort product.Sort) ([]product.Product, error)
	ListPage(ctx context.Context, sort product.Sort, page product.PageRequest) (*product.Page[product.Product], error)
	Get(ctx context.Context, id int64) (*product.Product, error)
	Create(ctx context.Context, d product.Draft, upload *catalog.Upload) (*catalog.SaveResult, error)
	Update(ctx context.Context, id int64, d product.Draft, upload *catalog.Upload) (*catalog.SaveResult, error)
	Delete(ctx context.Context, id int64) error
	Download(ctx context.Context, name string) (*filestore.File, error)

	ListPresentations(ctx context.Context, sort product.Sort) ([]product.Presentation, error)
	ListPresentationsPage(ctx context.Context, sort product.Sort, page product.PageRequest) (*product.Page[product.Presentation], error)
	GetPresentation(ctx context.Context, id int64) (*product.Presentation, error)
	SavePresentation(ctx context.Context, id int64, d product.PresentationDraft) (*product.Presentation, error)
	DeletePresentation(ctx context.Context, id int64) error
}

// Authenticator checks the API key presented on write requests.
type Authenticator interface {
	Authenticate(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error)
}

// APIKeyHeader carries the API key on write requests.
const APIKeyHeader = "api_key"

// FilesPath is the route prefix under which stored attachments are served.
const FilesPath = "/api/products/files/"

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// MaxUploadSize caps the request body of write routes, in bytes.
	MaxUploadSize int64
	// MaxPageSize is the largest accepted size parameter.
	MaxPageSize int
}

// Handler serves the catalog HTTP API.
type Handler struct {
	catalog Catalog
	// auth is nil when write routes are open.
	auth          Authenticator
	maxUploadSize int64
	maxPageSize   int
}

// NewHandler constructs a Handler. A nil authenticator leaves write routes
// unauthenticated.
func NewHandler(cfg HandlerConfig, c Catalog, authenticator Authenticator) *Handler {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 10 << 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	return &Handler{
		catalog:       c,
		auth:          authenticator,
		maxUploadSize: cfg.MaxUploadSize,
		maxPageSize:   cfg.MaxPageSize,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)
	mux.HandleFunc("POST /api/products", h.write(h.createProduct))
	mux.HandleFunc("PUT /api/products/{id}", h.write(h.updateProduct))
	mux.HandleFunc("POST /api/products/{id}", h.write(h.updateProduct))
	mux.HandleFunc("DELETE /api/products/{id}", h.write(h.deleteProduct))
	mux.HandleFunc("GET "+FilesPath+"{name}", h.downloadFile)
	mux.HandleFunc("GET /api/products/downloadFile/{name}", h.downloadFile)

	mux.HandleFunc("GET /api/presentations", h.listPresentations)
	mux.HandleFunc("GET /api/presentations/{id}", h.getPresentation)
	mux.HandleFunc("POST /api/presentations", h.write(h.createPresentation))
	mux.HandleFunc("PUT /api/presentations/{id}", h.write(h.updatePresentation))
	mux.HandleFunc("DELETE /api/presentations/{id}", h.write(h.deletePresentation))
}

// write guards a mutating route with the API key check and the body limit.
func (h *Handler) write(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.auth != nil {
			if _, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader), auth.ScopeCatalogWrite); err != nil {
				writeError(w, r, err)
				return
			}
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
		next(w, r)
	}
}
