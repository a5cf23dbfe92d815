// Package httpapi exposes the matter service over a JSON REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/rpattn/matters/internal/auth"
	"github.com/rpattn/matters/internal/domain"
	"github.com/rpattn/matters/internal/export"
	"github.com/rpattn/matters/internal/logging"
	"github.com/rpattn/matters/internal/middleware"
)

const maxBatchIDs = 100

// MatterService is what the handlers need from the service layer.
type MatterService interface {
	Catalog(ctx context.Context, accountID int64) (domain.FieldCatalog, error)
	ListMatters(ctx context.Context, params domain.MatterListParams) (domain.MatterList, error)
	CollectMatters(ctx context.Context, params domain.MatterListParams) ([]domain.Matter, error)
	GetMatterByID(ctx context.Context, id uuid.UUID) (*domain.Matter, error)
	GetMattersByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Matter, error)
	ListTransitions(ctx context.Context, matterID uuid.UUID) ([]domain.TransitionHistoryEntry, error)
	UpdateMatterField(ctx context.Context, accountID int64, update domain.MatterUpdate) (*domain.Matter, error)
}

type Handler struct {
	service MatterService
}

// NewRouter builds the API router. CORS is applied by the caller.
func NewRouter(service MatterService, defaultAccountID int64) http.Handler {
	h := &Handler{service: service}

	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ScopeMiddleware(defaultAccountID))
		r.Use(middleware.DataLoaderMiddleware(service))

		r.Get("/fields", h.handleFields)
		r.Get("/matters", h.handleList)
		r.Get("/matters/export.xlsx", h.handleExport)
		r.Get("/matters/batch", h.handleBatch)
		r.Get("/matters/{id}", h.handleGet)
		r.Get("/matters/{id}/history", h.handleHistory)
		r.Patch("/matters/{id}", h.handleUpdate)
	})

	return r
}

func (h *Handler) handleFields(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	catalog, err := h.service.Catalog(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.service.ListMatters(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	catalog, err := h.service.Catalog(r.Context(), params.AccountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	matters, err := h.service.CollectMatters(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="matters.xlsx"`)
	if err := export.WriteMatters(w, catalog.Fields, matters); err != nil {
		logging.From(r.Context()).Error("failed to write export", logging.ErrAttr(err))
	}
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	parts := strings.Split(raw, ",")
	if len(parts) > maxBatchIDs {
		writeError(w, http.StatusBadRequest, "too many ids")
		return
	}
	ids := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid matter id: "+part)
			return
		}
		ids = append(ids, id)
	}

	loader := middleware.MatterLoaderFromContext(r.Context())
	if loader == nil {
		writeError(w, http.StatusInternalServerError, "matter loader unavailable")
		return
	}
	loaded, err := loader.LoadMany(r.Context(), ids)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	matters := make([]domain.Matter, 0, len(loaded))
	for _, m := range loaded {
		if m != nil {
			matters = append(matters, *m)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": matters})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := matterID(w, r)
	if !ok {
		return
	}
	matter, err := h.service.GetMatterByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if matter == nil {
		writeError(w, http.StatusNotFound, "Matter not found")
		return
	}
	writeJSON(w, http.StatusOK, matter)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := matterID(w, r)
	if !ok {
		return
	}
	history, err := h.service.ListTransitions(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": history})
}

type updatePayload struct {
	FieldID   string          `json:"fieldId"`
	FieldType string          `json:"fieldType"`
	Value     json.RawMessage `json:"value"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := matterID(w, r)
	if !ok {
		return
	}

	defer r.Body.Close()
	var payload updatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	fieldID, err := uuid.Parse(strings.TrimSpace(payload.FieldID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fieldId")
		return
	}
	actorID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, middleware.ActorHeader+" header is required")
		return
	}

	fieldType := domain.FieldType(strings.TrimSpace(payload.FieldType))
	value, err := domain.ParseValue(fieldType, payload.Value)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	accountID, _ := auth.AccountIDFromContext(r.Context())
	matter, err := h.service.UpdateMatterField(r.Context(), accountID, domain.MatterUpdate{
		MatterID:  id,
		FieldID:   fieldID,
		FieldType: fieldType,
		Value:     value,
		ActorID:   actorID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if matter == nil {
		writeError(w, http.StatusNotFound, "Matter not found")
		return
	}
	writeJSON(w, http.StatusOK, matter)
}

func matterID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid matter id")
		return uuid.Nil, false
	}
	return id, true
}

func parseListParams(r *http.Request) (domain.MatterListParams, error) {
	q := r.URL.Query()
	accountID, _ := auth.AccountIDFromContext(r.Context())

	params := domain.MatterListParams{
		AccountID: accountID,
		SortKey:   strings.TrimSpace(q.Get("sortKey")),
		SortType:  domain.SortType(strings.TrimSpace(q.Get("sortType"))),
		SortOrder: domain.ParseSortDirection(q.Get("sortOrder")),
		Search:    strings.TrimSpace(q.Get("search")),
	}
	if params.SortKey == "" {
		// sortBy is the older name for the same parameter.
		params.SortKey = strings.TrimSpace(q.Get("sortBy"))
	}

	var err error
	if params.Page, err = optionalInt(q.Get("page")); err != nil {
		return params, errors.New("page must be an integer")
	}
	if params.Limit, err = optionalInt(q.Get("limit")); err != nil {
		return params, errors.New("limit must be an integer")
	}
	return params, nil
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrMatterNotFound):
		writeError(w, http.StatusNotFound, "Matter not found")
	case errors.Is(err, domain.ErrFieldNotFound),
		errors.Is(err, domain.ErrUnsupportedFieldType),
		errors.Is(err, domain.ErrValueTypeMismatch),
		errors.Is(err, domain.ErrUnknownOption):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.From(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			logging.ErrAttr(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
