package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/harun/iris/internal/tracing"
	"github.com/rs/zerolog"
)

// Wire types shared by the memory server and RemoteStore.
type (
	resolveRequest struct {
		SessionID string `json:"session_id"`
	}
	resolveResponse struct {
		SessionID string `json:"session_id"`
	}
	turnsResponse struct {
		SessionID string `json:"session_id"`
		Turns     []Turn `json:"turns"`
	}
	appendRequest struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}
	sweepRequest struct {
		Now       time.Time `json:"now"`
		MaxIdleMS int64     `json:"max_idle_ms"`
	}
	sweepResponse struct {
		Removed int `json:"removed"`
	}
	errorResponse struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
)

const (
	codeNotFound    = "not_found"
	codeInvalidRole = "invalid_role"
	codeInvalidID   = "invalid_id"
	codeClosed      = "closed"
	codeBadRequest  = "bad_request"
	codeInternal    = "internal"
)

type handler struct {
	store  Store
	logger zerolog.Logger
}

// NewHandler exposes store over HTTP so other processes can use it through RemoteStore
func NewHandler(store Store, logger zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	RegisterRoutes(r, store, logger)
	return r
}

// RegisterRoutes installs the memory server routes on r
func RegisterRoutes(r *mux.Router, store Store, logger zerolog.Logger) {
	h := &handler{
		store:  store,
		logger: logger.With().Str("component", "memory_server").Logger(),
	}

	r.HandleFunc("/sessions/resolve", h.resolve).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/turns", h.turns).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/turns", h.appendTurn).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/clear", h.clear).Methods(http.MethodPost)
	r.HandleFunc("/sweep", h.sweep).Methods(http.MethodPost)
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: codeBadRequest})
		return
	}

	id, err := h.store.ResolveOrCreate(r.Context(), req.SessionID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{SessionID: id})
}

func (h *handler) turns(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	turns, err := h.store.Turns(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turnsResponse{SessionID: id, Turns: turns})
}

func (h *handler) appendTurn(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: codeBadRequest})
		return
	}

	if err := h.store.AppendTurn(r.Context(), mux.Vars(r)["id"], req.Role, req.Content); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaxIdleMS <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "max_idle_ms must be positive", Code: codeBadRequest})
		return
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	removed, err := h.store.SweepExpired(r.Context(), req.Now, time.Duration(req.MaxIdleMS)*time.Millisecond)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Removed: removed})
}

func (h *handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(err, ErrNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, ErrInvalidRole):
		status, code = http.StatusBadRequest, codeInvalidRole
	case errors.Is(err, ErrInvalidID):
		status, code = http.StatusBadRequest, codeInvalidID
	case errors.Is(err, ErrClosed):
		status, code = http.StatusServiceUnavailable, codeClosed
	default:
		logger := tracing.LoggerFromContext(r.Context(), h.logger)
		logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("Memory server operation failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
