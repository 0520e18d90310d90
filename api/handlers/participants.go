package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// RegisterRequest is the request for POST /api/register.
type RegisterRequest struct {
	Participant string `json:"participant"`
}

// PostRegister handles POST /api/register.
func (h *Handlers) PostRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: "invalid request body"})
		return
	}

	if err := h.engine.Register(req.Participant); err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.log.Info("handlers: participant registered", "participant", req.Participant, "ip", GetIPFromRequest(r))
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "participant": req.Participant})
}

// ClaimRequest is the request for POST /api/claim.
type ClaimRequest struct {
	Participant string `json:"participant"`
}

// ClaimResponse is the response for POST /api/claim.
type ClaimResponse struct {
	Participant string `json:"participant"`
	Amount      uint64 `json:"amount"`
}

// PostClaim handles POST /api/claim. Settlement covers every unclaimed round
// in a single call.
func (h *Handlers) PostClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: "invalid request body"})
		return
	}

	amount, err := h.engine.Claim(r.Context(), req.Participant)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.log.Info("handlers: claim settled", "participant", req.Participant, "amount", amount)
	h.writeJSON(w, http.StatusOK, ClaimResponse{Participant: req.Participant, Amount: amount})
}

// ClaimableResponse is the response for GET /api/participants/{participant}/claimable.
type ClaimableResponse struct {
	Participant string  `json:"participant"`
	Round       *uint64 `json:"round,omitempty"`
	Amount      uint64  `json:"amount"`
}

// GetClaimable handles GET /api/participants/{participant}/claimable.
// An optional ?round= query parameter restricts the view to a single round.
func (h *Handlers) GetClaimable(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participant")

	resp := ClaimableResponse{Participant: participant}
	if roundStr := r.URL.Query().Get("round"); roundStr != "" {
		round, err := strconv.ParseUint(roundStr, 10, 64)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: "round must be a positive integer"})
			return
		}
		amount, err := h.engine.Claimable(participant, round)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		resp.Round = &round
		resp.Amount = amount
	} else {
		resp.Amount = h.engine.TotalClaimable(participant)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// UnclaimedRoundsResponse is the response for GET /api/participants/{participant}/unclaimed-rounds.
type UnclaimedRoundsResponse struct {
	Participant string   `json:"participant"`
	Rounds      []uint64 `json:"rounds"`
}

// GetUnclaimedRounds handles GET /api/participants/{participant}/unclaimed-rounds.
func (h *Handlers) GetUnclaimedRounds(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participant")
	rounds := h.engine.UnclaimedRounds(participant)
	if rounds == nil {
		rounds = []uint64{}
	}
	h.writeJSON(w, http.StatusOK, UnclaimedRoundsResponse{Participant: participant, Rounds: rounds})
}
