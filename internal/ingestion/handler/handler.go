// Package handler serves the ingestion HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/logger"
)

type Handler struct {
	publisher *publisher.Publisher
	validator *validator.Validator
	maxBody   int64
	logger    *slog.Logger
}

// New returns a handler. maxBody caps the request body in bytes.
func New(pub *publisher.Publisher, v *validator.Validator, maxBody int64) *Handler {
	return &Handler{
		publisher: pub,
		validator: v,
		maxBody:   maxBody,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /documents", h.Insert)
	mux.HandleFunc("PUT /documents/{id}", h.Upsert)
	mux.HandleFunc("DELETE /documents/{id}", h.Delete)
}

func (h *Handler) Insert(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	columns, ok := h.validate(w, req, true)
	if !ok {
		return
	}
	h.publish(w, r, ingestion.OpInsert, *req.DocID, columns)
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	docid, ok := h.pathID(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.DocID != nil && *req.DocID != docid {
		h.writeError(w, http.StatusBadRequest, "doc_id in body does not match the path")
		return
	}
	columns, ok := h.validate(w, req, false)
	if !ok {
		return
	}
	h.publish(w, r, ingestion.OpUpsert, docid, columns)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	docid, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.publish(w, r, ingestion.OpDelete, docid, nil)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	docid, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "document id must be an integer")
		return 0, false
	}
	return docid, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*ingestion.DocumentRequest, bool) {
	var body io.Reader = r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var req ingestion.DocumentRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return &req, true
}

func (h *Handler) validate(w http.ResponseWriter, req *ingestion.DocumentRequest, requireID bool) ([]string, bool) {
	columns, err := h.validator.Document(req, requireID)
	if err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return nil, false
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return columns, true
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request, op ingestion.Op, docid int64, columns []string) {
	log := logger.FromContext(r.Context())
	resp, err := h.publisher.Publish(r.Context(), op, docid, columns)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed", "op", op, "doc_id", docid, "error", err, "status_code", status)
		h.writeError(w, status, "ingestion failed")
		return
	}
	log.Info("document accepted", "op", op, "doc_id", docid)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
