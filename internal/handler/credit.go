package handler

import (
	"fmt"
	"net/http"

	"github.com/csmith1188/FormBank/internal/middleware"
)

// Credit returns the borrower's limit, balance, active loan, and history
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.SessionUserID(r.Context())
	overview, err := h.svc.GetCreditOverview(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, overview)
}

// Borrow issues a loan to the signed-in borrower
func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.SessionUserID(r.Context())

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.svc.Borrow(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Loan of %d digipogs issued successfully. You received %d digipogs (after 10%% tax). You owe %d digipogs.",
			result.Principal, result.ReceivedEstimate, result.AmountOwed),
		"loan": result,
	})
}

// Repay applies a partial repayment
func (h *Handler) Repay(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.SessionUserID(r.Context())

	var req struct {
		Amount int64  `json:"amount"`
		PIN    string `json:"pin"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.svc.Repay(r.Context(), userID, req.Amount, req.PIN)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   repayMessage(result.AmountApplied, result.Overpayment, result.PaidOff, result.LimitIncreased),
		"repayment": result,
	})
}

// RepayFull pays off the remaining debt in one go
func (h *Handler) RepayFull(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.SessionUserID(r.Context())

	var req struct {
		PIN string `json:"pin"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.svc.RepayFull(r.Context(), userID, req.PIN)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   repayMessage(result.AmountApplied, 0, result.PaidOff, result.LimitIncreased),
		"repayment": result,
	})
}

func repayMessage(applied, overpayment int64, paidOff, limitIncreased bool) string {
	msg := fmt.Sprintf("Repayment of %d digipogs processed", applied)
	if overpayment > 0 {
		msg += fmt.Sprintf(" (%d digipogs credited to your account)", overpayment)
	}
	msg += "."
	if paidOff {
		msg += " Loan paid off!"
	}
	if limitIncreased {
		msg += " Your credit limit has increased."
	}
	return msg
}
