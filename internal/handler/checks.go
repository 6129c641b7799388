package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/csmith1188/FormBank/internal/middleware"
	"github.com/csmith1188/FormBank/internal/models"
	"github.com/gorilla/mux"
)

// Checks lists the user's checks
func (h *Handler) Checks(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.SessionUserID(r.Context())
	checks, err := h.svc.ChecksForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"checks": checks})
}

// WriteCheck issues a check; an absent receiver_id writes a blank check
func (h *Handler) WriteCheck(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.SessionUserID(r.Context())

	var req struct {
		ReceiverID *int64 `json:"receiver_id"`
		Amount     int64  `json:"amount"`
		PIN        string `json:"pin"`
		Memo       string `json:"memo"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.svc.WriteCheck(r.Context(), userID, req.ReceiverID, req.Amount, req.PIN, req.Memo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"check_id": result.CheckID,
		"status":   result.Status,
		"fee":      result.Fee,
	})
}

// CheckDetail serves GET /checks/{id}. Three shapes share the route:
//   - ?receiverId=N redeems via the sharing link, no session required
//   - an authenticated non-sender hitting an unclaimed blank check redeems it
//   - otherwise the sender or receiver gets the check detail
func (h *Handler) CheckDetail(w http.ResponseWriter, r *http.Request) {
	checkID, err := pathID(r, mux.Vars(r), "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("receiverId")); raw != "" {
		receiverID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || receiverID < 1 {
			respondError(w, http.StatusBadRequest, "invalid receiver ID")
			return
		}
		result, err := h.svc.RedeemCheck(r.Context(), checkID, receiverID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	// No receiver parameter: the session decides what this request means
	userID, _, authErr := middleware.UserFromRequest(h.cfg, r)
	if authErr != nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	check, err := h.svc.GetCheck(r.Context(), checkID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	isSender := check.SenderID == userID
	isReceiver := check.ReceiverID != nil && *check.ReceiverID == userID
	if check.Blank() && check.Status == models.CheckUncashed && !isSender {
		result, err := h.svc.RedeemCheck(r.Context(), checkID, userID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}
	if !isSender && !isReceiver {
		respondError(w, http.StatusForbidden, "you do not have permission to view this check")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"check":     check,
		"is_sender": isSender,
		// The durable, guessable-by-design sharing link; rendered as a QR
		// code by the frontend
		"share_url": fmt.Sprintf("%s/checks/%d", h.cfg.BaseURL, checkID),
	})
}
