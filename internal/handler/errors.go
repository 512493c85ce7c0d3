package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/internal/domain/auth"
	"github.com/xenking/kart-catalog/internal/domain/product"
	"github.com/xenking/kart-catalog/internal/storage/filestore"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Code    int
	Message string
	Errors  []string
}

func (e apiError) encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("code")
	enc.Int(e.Code)
	enc.FieldStart("message")
	enc.Str(e.Message)
	if len(e.Errors) > 0 {
		enc.FieldStart("errors")
		enc.ArrStart()
		for _, msg := range e.Errors {
			enc.Str(msg)
		}
		enc.ArrEnd()
	}
	enc.ObjEnd()
}

// classify maps a use-case error to its client-facing form. Server faults
// get a generic message.
func classify(err error) apiError {
	var (
		validationErr *product.ValidationError
		queryErr      *product.QueryError
		nameErr       *filestore.InvalidNameError
		maxBytesErr   *http.MaxBytesError
		malformedErr  *malformedBodyError
	)
	switch {
	case errors.As(err, &validationErr):
		return apiError{Code: http.StatusBadRequest, Message: "validation failed", Errors: validationErr.Messages()}
	case errors.As(err, &queryErr):
		return apiError{Code: http.StatusBadRequest, Message: queryErr.Error()}
	case errors.As(err, &nameErr):
		return apiError{Code: http.StatusBadRequest, Message: nameErr.Error()}
	case errors.As(err, &maxBytesErr):
		return apiError{Code: http.StatusRequestEntityTooLarge, Message: "request body too large"}
	case errors.As(err, &malformedErr):
		return apiError{Code: http.StatusBadRequest, Message: malformedErr.Error()}
	case errors.Is(err, product.ErrNotFound):
		return apiError{Code: http.StatusNotFound, Message: "product not found"}
	case errors.Is(err, product.ErrPresentationNotFound):
		return apiError{Code: http.StatusNotFound, Message: "presentation not found"}
	case errors.Is(err, filestore.ErrNotFound):
		return apiError{Code: http.StatusNotFound, Message: "file not found"}
	case errors.Is(err, filestore.ErrConflict):
		return apiError{Code: http.StatusConflict, Message: "could not allocate a file name, retry the upload"}
	case errors.Is(err, auth.ErrUnauthorized):
		return apiError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	default:
		return apiError{Code: http.StatusInternalServerError, Message: "internal server error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := classify(err)
	lg := zctx.From(r.Context())
	if resp.Code >= http.StatusInternalServerError {
		fields := []zap.Field{zap.Error(err)}
		var perr *product.PersistenceError
		if errors.As(err, &perr) && perr.IsConstraint() {
			fields = append(fields, zap.String("constraint", perr.Constraint))
		}
		lg.Error("Request failed", fields...)
	} else {
		lg.Debug("Request rejected", zap.Int("status", resp.Code), zap.Error(err))
	}
	writeJSON(w, resp.Code, resp.encode)
}
