package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridianlabs/tally/settlement/pkg/engine"
)

// GetStatus handles GET /api/status.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

// PostActivate handles POST /api/rounds/activate to end registration and
// open the first round for scoring.
func (h *Handlers) PostActivate(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartActivePhase(actorFromRequest(r)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.log.Info("handlers: active phase started")
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

// PostRounds handles POST /api/rounds, starting the next round.
func (h *Handlers) PostRounds(w http.ResponseWriter, r *http.Request) {
	round, err := h.engine.StartNewRound(actorFromRequest(r))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.log.Info("handlers: new round started", "round", round)
	h.writeJSON(w, http.StatusOK, map[string]uint64{"round": round})
}

// GetRound handles GET /api/rounds/{round}.
func (h *Handlers) GetRound(w http.ResponseWriter, r *http.Request) {
	round, ok := h.roundParam(w, r)
	if !ok {
		return
	}
	stats, err := h.engine.RoundStats(round)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// RegistrantsResponse is the response for GET /api/rounds/{round}/registrants.
type RegistrantsResponse struct {
	Round       uint64   `json:"round"`
	Registrants []string `json:"registrants"`
}

// GetRegistrants handles GET /api/rounds/{round}/registrants.
func (h *Handlers) GetRegistrants(w http.ResponseWriter, r *http.Request) {
	round, ok := h.roundParam(w, r)
	if !ok {
		return
	}
	registrants, err := h.engine.Registrants(round)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if registrants == nil {
		registrants = []string{}
	}
	h.writeJSON(w, http.StatusOK, RegistrantsResponse{Round: round, Registrants: registrants})
}

// ScoresRequest is the request for POST /api/scores.
type ScoresRequest struct {
	Scores []engine.ScoreEntry `json:"scores"`
}

// PostScores handles POST /api/scores, finalizing the current round.
func (h *Handlers) PostScores(w http.ResponseWriter, r *http.Request) {
	var req ScoresRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: "invalid request body"})
		return
	}

	if err := h.engine.LoadScores(actorFromRequest(r), req.Scores); err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.log.Info("handlers: scores loaded", "entries", len(req.Scores))
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

func (h *Handlers) roundParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil || round == 0 {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: "round must be a positive integer"})
		return 0, false
	}
	return round, true
}
