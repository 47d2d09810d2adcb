package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"school-service/internal/models"
	"school-service/internal/service"
	"school-service/internal/util"
)

// RecordHandler serves CRUD for every record collection under
// /api/{collection}.
type RecordHandler struct {
	responder
	records *service.RecordService
}

func NewRecordHandler(records *service.RecordService, r responder) *RecordHandler {
	return &RecordHandler{responder: r, records: records}
}

func (h *RecordHandler) RegisterRoutes(router chi.Router) {
	router.Route("/{collection}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// List treats every query parameter except limit and offset as an equality
// filter on a top-level field.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam("limit", q.Get("limit"))
	if err != nil {
		h.respondWithError(w, r, err, "Invalid limit")
		return
	}
	offset, err := intParam("offset", q.Get("offset"))
	if err != nil {
		h.respondWithError(w, r, err, "Invalid offset")
		return
	}

	equals := make(map[string]string)
	for k, vs := range q {
		if k == "limit" || k == "offset" || len(vs) == 0 || vs[0] == "" {
			continue
		}
		equals[k] = vs[0]
	}

	res, err := h.records.List(r.Context(), collection(r), equals, limit, offset)
	if err != nil {
		h.respondWithError(w, r, err, "Failed to list records")
		return
	}
	resp := util.SuccessResponse(res.Records, "")
	resp.Meta = &util.Meta{Total: res.Total, Limit: res.Limit, Offset: res.Offset}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	rec, err := h.records.Create(r.Context(), collection(r), fields, h.actor(r))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to create record")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, util.SuccessResponse(rec, "Record created successfully"))
}

func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(r.Context(), collection(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to get record")
		return
	}
	h.respondWithJSON(w, http.StatusOK, util.SuccessResponse(rec, ""))
}

func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	rec, err := h.records.Update(r.Context(), collection(r), chi.URLParam(r, "id"), fields, h.actor(r))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to update record")
		return
	}
	h.respondWithJSON(w, http.StatusOK, util.SuccessResponse(rec, "Record updated successfully"))
}

func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.records.Delete(r.Context(), collection(r), chi.URLParam(r, "id"), h.actor(r)); err != nil {
		h.respondWithError(w, r, err, "Failed to delete record")
		return
	}
	h.respondWithJSON(w, http.StatusOK, util.SuccessResponse(nil, "Record deleted successfully"))
}

func collection(r *http.Request) models.Collection {
	return models.Collection(chi.URLParam(r, "collection"))
}

func intParam(name, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, service.ValidationErrors{{Field: name, Message: "must be a non-negative integer"}}
	}
	return n, nil
}
