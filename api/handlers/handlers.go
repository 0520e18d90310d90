// Package handlers implements the HTTP handlers for the Tally settlement API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/meridianlabs/tally/settlement/pkg/engine"
)

type Config struct {
	Logger *slog.Logger
	Engine *engine.Engine
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	return nil
}

// Handlers holds the dependencies shared by all API handlers.
type Handlers struct {
	log    *slog.Logger
	engine *engine.Engine
}

func New(cfg Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handlers{
		log:    cfg.Logger,
		engine: cfg.Engine,
	}, nil
}

// ErrorResponse is the JSON body returned for any failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("handlers: failed to encode JSON response", "error", err)
	}
}

func (h *Handlers) writeEngineError(w http.ResponseWriter, err error) {
	h.writeJSON(w, statusForError(err), ErrorResponse{
		Error:   errorCode(err),
		Message: err.Error(),
	})
}

// statusForError maps engine sentinel errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrPhaseViolation):
		return http.StatusConflict
	case errors.Is(err, engine.ErrDuplicateRegistration):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNothingToClaim):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, engine.ErrPhaseViolation):
		return "phase_violation"
	case errors.Is(err, engine.ErrDuplicateRegistration):
		return "duplicate_registration"
	case errors.Is(err, engine.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, engine.ErrNothingToClaim):
		return "nothing_to_claim"
	case errors.Is(err, engine.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, engine.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, engine.ErrTransferFailed):
		return "transfer_failed"
	default:
		return "internal_error"
	}
}

// GetIPFromRequest extracts the client IP, preferring X-Forwarded-For when
// the service runs behind a proxy.
func GetIPFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
