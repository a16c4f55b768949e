package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	apperrors "github.com/3leaps/livyctl/internal/errors"
	"github.com/3leaps/livyctl/internal/server/emulator"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/go-chi/chi/v5"
)

// DefaultListSize is the page size of GET /batches without a size parameter.
const DefaultListSize = 20

// BatchHandler serves the Livy batch API from an emulator.
type BatchHandler struct {
	emu *emulator.Emulator
}

func NewBatchHandler(emu *emulator.Emulator) *BatchHandler {
	return &BatchHandler{emu: emu}
}

// Routes mounts the batch endpoints on r.
func (h *BatchHandler) Routes(r chi.Router) {
	r.Post("/batches", h.Create)
	r.Get("/batches", h.List)
	r.Get("/batches/{id}", h.Get)
	r.Get("/batches/{id}/state", h.State)
	r.Get("/batches/{id}/log", h.Log)
	r.Delete("/batches/{id}", h.Delete)
}

func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req livy.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, &apperrors.HTTPError{
			Status: http.StatusBadRequest, Code: apperrors.CodeBadRequest,
			Message: "malformed batch request", Err: err,
		})
		return
	}
	b, err := h.emu.Create(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/batches/"+strconv.Itoa(b.ID))
	writeJSON(w, http.StatusCreated, b)
}

func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	from, ok := queryInt(w, r, "from", 0)
	if !ok {
		return
	}
	size, ok := queryInt(w, r, "size", DefaultListSize)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.emu.List(from, size))
}

func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	b, err := h.emu.Get(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BatchHandler) State(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	st, err := h.emu.State(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *BatchHandler) Log(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	// Without from the last size lines are returned, as Livy does.
	from, ok := queryInt(w, r, "from", -1)
	if !ok {
		return
	}
	size, ok := queryInt(w, r, "size", emulator.DefaultLogPage)
	if !ok {
		return
	}
	resp, err := h.emu.Log(id, from, size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BatchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	if err := h.emu.Delete(id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": "deleted"})
}

func (h *BatchHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, emulator.ErrNotFound), errors.Is(err, emulator.ErrLogNotReady):
		respondWithError(w, r, &apperrors.HTTPError{
			Status: http.StatusNotFound, Code: apperrors.CodeNotFound, Message: err.Error(), Err: err,
		})
	case errors.Is(err, emulator.ErrInvalidBatch):
		respondWithError(w, r, &apperrors.HTTPError{
			Status: http.StatusBadRequest, Code: apperrors.CodeBadRequest, Message: err.Error(), Err: err,
		})
	default:
		respondWithError(w, r, err)
	}
}

func batchID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		respondWithError(w, r, apperrors.NewHTTPError(http.StatusBadRequest, apperrors.CodeBadRequest,
			"batch id must be a non-negative integer"))
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondWithError(w, r, apperrors.NewHTTPError(http.StatusBadRequest, apperrors.CodeBadRequest,
			name+" must be a non-negative integer"))
		return 0, false
	}
	return n, true
}
