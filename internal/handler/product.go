package handler

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/internal/domain/catalog"
	"github.com/xenking/kart-catalog/internal/domain/product"
)

const (
	// productPart and filePart name the multipart form fields of a write.
	productPart = "product"
	filePart    = "file"

	multipartMemory = 1 << 20
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	sort, page, err := h.listParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if page == nil {
		products, err := h.catalog.List(r.Context(), sort)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.ArrStart()
			for i := range products {
				encodeProduct(e, &products[i])
			}
			e.ArrEnd()
		})
		return
	}

	result, err := h.catalog.ListPage(r.Context(), sort, *page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodePage(e, result, encodeProduct)
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeProduct(e, p)
	})
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	draft, upload, cleanup, err := h.readProduct(r)
	defer cleanup()
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.catalog.Create(r.Context(), draft, upload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Product created",
		zap.Int64("product_id", result.Product.ID),
		zap.Bool("attachment", result.File != nil),
	)
	writeSaveResult(w, http.StatusCreated, "product created", result)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	draft, upload, cleanup, err := h.readProduct(r)
	defer cleanup()
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.catalog.Update(r.Context(), id, draft, upload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Product updated",
		zap.Int64("product_id", id),
		zap.Bool("attachment", result.File != nil),
	)
	writeSaveResult(w, http.StatusOK, "product updated", result)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.catalog.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Product deleted", zap.Int64("product_id", id))
	writeMessage(w, http.StatusOK, "product "+strconv.FormatInt(id, 10)+" deleted")
}

func (h *Handler) downloadFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.catalog.Download(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = f.Content.Close() }()

	hdr := w.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Info.Name}))
	hdr.Set("Content-Length", strconv.FormatInt(f.Info.Size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, f.Content); err != nil {
		zctx.From(r.Context()).Warn("Download interrupted", zap.String("file", f.Info.Name), zap.Error(err))
	}
}

// readProduct decodes a JSON body, or a multipart body with a JSON "product"
// field and an optional "file" part. cleanup is always safe to call.
func (h *Handler) readProduct(r *http.Request) (product.Draft, *catalog.Upload, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		d, err := decodeDraft(r.Body)
		return d, nil, noop, err
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return product.Draft{}, nil, noop, err
		}
		return product.Draft{}, nil, noop, &malformedBodyError{err: err}
	}
	form := r.MultipartForm
	cleanup := func() { _ = form.RemoveAll() }

	var body io.Reader
	switch {
	case len(form.Value[productPart]) > 0:
		body = strings.NewReader(form.Value[productPart][0])
	case len(form.File[productPart]) > 0:
		part, err := form.File[productPart][0].Open()
		if err != nil {
			return product.Draft{}, nil, cleanup, errors.Wrap(err, "open product part")
		}
		defer func() { _ = part.Close() }()
		body = part
	default:
		var v product.ValidationError
		v.Add(productPart, "is required")
		return product.Draft{}, nil, cleanup, v.OrNil()
	}
	d, err := decodeDraft(body)
	if err != nil {
		return product.Draft{}, nil, cleanup, err
	}

	files := form.File[filePart]
	// An empty file part means no upload.
	if len(files) == 0 || files[0].Size == 0 {
		return d, nil, cleanup, nil
	}
	content, err := files[0].Open()
	if err != nil {
		return product.Draft{}, nil, cleanup, errors.Wrap(err, "open file part")
	}
	return d, &catalog.Upload{Name: files[0].Filename, Content: content}, func() {
		_ = content.Close()
		cleanup()
	}, nil
}

func writeSaveResult(w http.ResponseWriter, status int, message string, result *catalog.SaveResult) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("message")
		e.Str(message)
		e.FieldStart("product")
		encodeProduct(e, result.Product)
		if result.File != nil {
			e.FieldStart("file")
			encodeFile(e, result.File)
		}
		e.ObjEnd()
	})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}
