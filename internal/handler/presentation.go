package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

func (h *Handler) listPresentations(w http.ResponseWriter, r *http.Request) {
	sort, page, err := h.listParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if page == nil {
		items, err := h.catalog.ListPresentations(r.Context(), sort)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.ArrStart()
			for i := range items {
				encodePresentation(e, &items[i])
			}
			e.ArrEnd()
		})
		return
	}

	result, err := h.catalog.ListPresentationsPage(r.Context(), sort, *page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodePage(e, result, encodePresentation)
	})
}

func (h *Handler) getPresentation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.catalog.GetPresentation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodePresentation(e, p)
	})
}

func (h *Handler) createPresentation(w http.ResponseWriter, r *http.Request) {
	h.savePresentation(w, r, 0, http.StatusCreated)
}

func (h *Handler) updatePresentation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.savePresentation(w, r, id, http.StatusOK)
}

func (h *Handler) savePresentation(w http.ResponseWriter, r *http.Request, id int64, status int) {
	d, err := decodePresentationDraft(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := h.catalog.SavePresentation(r.Context(), id, d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Presentation saved", zap.Int64("presentation_id", saved.ID))
	writeJSON(w, status, func(e *jx.Encoder) {
		encodePresentation(e, saved)
	})
}

func (h *Handler) deletePresentation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.catalog.DeletePresentation(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Presentation deleted", zap.Int64("presentation_id", id))
	writeMessage(w, http.StatusOK, "presentation "+strconv.FormatInt(id, 10)+" deleted")
}
