// Package catalog implements the product and presentation use cases on top of
// the record repositories and the attachment store.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-catalog/internal/domain/product"
	"github.com/xenking/kart-catalog/internal/storage/filestore"
)

// Attachments stores and serves uploaded product images.
type Attachments interface {
	Save(ctx context.Context, originalName string, content io.Reader) (filestore.StoredFile, error)
	Open(ctx context.Context, storedName string) (*filestore.File, error)
}

// Upload is an attachment payload accompanying a create or update.
type Upload struct {
	Name    string
	Content io.Reader
}

// FileDescriptor describes a stored attachment to the client.
type FileDescriptor struct {
	Name        string
	DownloadURI string
	Size        int64
}

// SaveResult holds the output of a create or update.
type SaveResult struct {
	Product *product.Product
	// File is set only when the request carried an upload.
	File *FileDescriptor
}

// Service encapsulates catalog business logic.
type Service struct {
	products      product.Repository
	presentations product.PresentationRepository
	files         Attachments
	validator     *product.Validator
	downloadBase  string
}

// NewService creates a catalog Service. downloadBase prefixes stored file
// names in FileDescriptor.DownloadURI, e.g. "/api/products/files/".
func NewService(
	products product.Repository,
	presentations product.PresentationRepository,
	files Attachments,
	downloadBase string,
) *Service {
	return &Service{
		products:      products,
		presentations: presentations,
		files:         files,
		validator:     product.NewValidator(),
		downloadBase:  downloadBase,
	}
}

// List returns every product ordered by sort.
func (s *Service) List(ctx context.Context, sort product.Sort) ([]product.Product, error) {
	return s.products.List(ctx, sort)
}

// ListPage returns one page of products.
func (s *Service) ListPage(ctx context.Context, sort product.Sort, page product.PageRequest) (*product.Page[product.Product], error) {
	return s.products.ListPage(ctx, sort, page)
}

// Get returns a product or product.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*product.Product, error) {
	return s.products.GetByID(ctx, id)
}

// Create inserts a new product. A client-supplied identity is rejected. The
// upload, if any, is stored before the record; a failed record write leaves
// the stored file behind.
func (s *Service) Create(ctx context.Context, d product.Draft, upload *Upload) (*SaveResult, error) {
	var identity []product.Violation
	if d.ID != 0 {
		identity = append(identity, product.Violation{Field: "id", Message: "must not be set on create"})
	}
	if err := s.checkDraft(ctx, d, identity...); err != nil {
		return nil, err
	}
	return s.save(ctx, 0, d, upload)
}

// Update overwrites the product identified by id. The body cannot change the
// identity. Without an upload the stored image reference is kept.
func (s *Service) Update(ctx context.Context, id int64, d product.Draft, upload *Upload) (*SaveResult, error) {
	var identity []product.Violation
	if id <= 0 {
		identity = append(identity, product.Violation{Field: "id", Message: "must be greater than 0"})
	}
	if err := s.checkDraft(ctx, d, identity...); err != nil {
		return nil, err
	}
	return s.save(ctx, id, d, upload)
}

// checkDraft collects every violation of a write in one ValidationError:
// field rules, the caller's identity violations and the presentation
// reference.
func (s *Service) checkDraft(ctx context.Context, d product.Draft, identity ...product.Violation) error {
	var verr product.ValidationError
	if err := s.validator.Draft(d); err != nil {
		var fields *product.ValidationError
		if !errors.As(err, &fields) {
			return err
		}
		verr.Violations = append(verr.Violations, fields.Violations...)
	}

	verr.Violations = append(verr.Violations, identity...)

	// A non-positive reference is already reported by the field rules.
	if d.PresentationID != nil && *d.PresentationID > 0 {
		_, err := s.presentations.GetByID(ctx, *d.PresentationID)
		switch {
		case errors.Is(err, product.ErrPresentationNotFound):
			verr.Add("presentationId", fmt.Sprintf("presentation %d does not exist", *d.PresentationID))
		case err != nil:
			return errors.Wrap(err, "get presentation")
		}
	}
	return verr.OrNil()
}

func (s *Service) save(ctx context.Context, id int64, d product.Draft, upload *Upload) (*SaveResult, error) {
	p := &product.Product{
		ID:             id,
		Name:           d.Name,
		Description:    d.Description,
		Price:          *d.Price,
		PresentationID: d.PresentationID,
	}

	var file *FileDescriptor
	if upload != nil {
		stored, err := s.files.Save(ctx, upload.Name, upload.Content)
		if err != nil {
			return nil, errors.Wrap(err, "store attachment")
		}
		p.Image = &stored.Name
		file = &FileDescriptor{
			Name:        stored.Name,
			DownloadURI: s.downloadBase + url.PathEscape(stored.Name),
			Size:        stored.Size,
		}
	}

	saved, err := s.products.Save(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "save product")
	}
	return &SaveResult{Product: saved, File: file}, nil
}

// Delete removes the product. The stored image is kept.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.products.GetByID(ctx, id); err != nil {
		return err
	}
	return s.products.Delete(ctx, id)
}

// Download opens a stored attachment. The caller must close the content.
func (s *Service) Download(ctx context.Context, name string) (*filestore.File, error) {
	return s.files.Open(ctx, name)
}

// ListPresentations returns every presentation ordered by sort.
func (s *Service) ListPresentations(ctx context.Context, sort product.Sort) ([]product.Presentation, error) {
	return s.presentations.List(ctx, sort)
}

// ListPresentationsPage returns one page of presentations.
func (s *Service) ListPresentationsPage(ctx context.Context, sort product.Sort, page product.PageRequest) (*product.Page[product.Presentation], error) {
	return s.presentations.ListPage(ctx, sort, page)
}

// GetPresentation returns a presentation or product.ErrPresentationNotFound.
func (s *Service) GetPresentation(ctx context.Context, id int64) (*product.Presentation, error) {
	return s.presentations.GetByID(ctx, id)
}

// SavePresentation inserts the draft when id is zero and upserts it by id
// otherwise.
func (s *Service) SavePresentation(ctx context.Context, id int64, d product.PresentationDraft) (*product.Presentation, error) {
	var verr product.ValidationError
	if err := s.validator.PresentationDraft(d); err != nil {
		var fields *product.ValidationError
		if !errors.As(err, &fields) {
			return nil, err
		}
		verr.Violations = append(verr.Violations, fields.Violations...)
	}
	if id == 0 && d.ID != 0 {
		verr.Add("id", "must not be set on create")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	saved, err := s.presentations.Save(ctx, &product.Presentation{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
	})
	if err != nil {
		return nil, errors.Wrap(err, "save presentation")
	}
	return saved, nil
}

// DeletePresentation removes a presentation. Products referencing it are
// kept and lose the link.
func (s *Service) DeletePresentation(ctx context.Context, id int64) error {
	if _, err := s.presentations.GetByID(ctx, id); err != nil {
		return err
	}
	return s.presentations.Delete(ctx, id)
}
