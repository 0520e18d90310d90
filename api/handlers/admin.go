package handlers

import (
	"encoding/json"
	"net/http"
)

// DepositRequest is the request for POST /api/deposits.
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

// PostDeposit handles POST /api/deposits, adding funds to the held balance.
func (h *Handlers) PostDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: "invalid request body"})
		return
	}

	if err := h.engine.Deposit(actorFromRequest(r), req.Amount); err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.log.Info("handlers: deposit accepted", "amount", req.Amount)
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

// EmergencyWithdrawRequest is the request for POST /api/emergency-withdraw.
type EmergencyWithdrawRequest struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// PostEmergencyWithdraw handles POST /api/emergency-withdraw, draining held
// funds to an admin-chosen recipient outside normal settlement.
func (h *Handlers) PostEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req EmergencyWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: "invalid request body"})
		return
	}

	if err := h.engine.EmergencyWithdraw(r.Context(), actorFromRequest(r), req.Recipient, req.Amount); err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.log.Warn("handlers: emergency withdrawal executed", "recipient", req.Recipient, "amount", req.Amount)
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}
