// Package handler exposes the JSON HTTP surface. All money logic lives in the
// service layer; handlers parse, call, and map errors to statuses.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/csmith1188/FormBank/internal/common"
	"github.com/csmith1188/FormBank/internal/config"
	"github.com/csmith1188/FormBank/internal/middleware"
	"github.com/csmith1188/FormBank/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// lockoutSuggestion is the remediation hint attached to HTTP 423 responses.
const lockoutSuggestion = "The account is temporarily locked. Wait for the lock to expire or verify the LENDER_PIN configured for this service matches the account PIN in Formbar."

type Handler struct {
	svc *service.Service
	cfg *config.Config
	log *logrus.Logger
}

func NewHandler(svc *service.Service, cfg *config.Config, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, cfg: cfg, log: log}
}

// Home reports the signed-in identity
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.SessionUserID(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user":     middleware.SessionUsername(r.Context()),
		"user_id":  userID,
		"is_admin": h.svc.IsLender(userID),
	})
}

// Login completes the Formbar single-sign-on hand-off. The incoming token is
// decoded, not verified: the identity service already authenticated the user
// and this service trusts the id it hands over.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Redirect(w, r, fmt.Sprintf("%s/oauth?redirectURL=%s/login", h.cfg.AuthURL, h.cfg.BaseURL), http.StatusFound)
		return
	}

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token")
		return
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid token claims")
		return
	}
	rawID, ok := claims["id"].(float64)
	if !ok || rawID < 1 {
		respondError(w, http.StatusBadRequest, "token is missing the Formbar user id")
		return
	}
	userID := int64(rawID)
	displayName, _ := claims["displayName"].(string)

	if err := h.svc.RegisterUser(r.Context(), userID, displayName); err != nil {
		h.log.Errorf("Failed to save user %d: %v", userID, err)
	}

	session, err := middleware.NewSessionToken(h.cfg, userID, displayName)
	if err != nil {
		h.log.Errorf("Failed to mint session token: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to establish session")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session,
		Path:     "/",
		MaxAge:   24 * 60 * 60,
		HttpOnly: true,
	})
	h.log.Infof("User %s (%d) signed in", displayName, userID)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout clears the session cookie
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}

// Admin lists every borrower; lender only
func (h *Handler) Admin(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.SessionUserID(r.Context())
	if !h.svc.IsLender(userID) {
		respondError(w, http.StatusForbidden, "admin panel is only available to the lender")
		return
	}
	borrowers, err := h.svc.Borrowers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"users": borrowers})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrStateConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrGatewayLockout):
		respondJSON(w, http.StatusLocked, map[string]interface{}{
			"error":      err.Error(),
			"locked":     true,
			"suggestion": lockoutSuggestion,
		})
	case errors.Is(err, common.ErrGatewayTimeout):
		h.log.Warnf("Gateway timeout: %v", err)
		respondError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, common.ErrGatewayFailure):
		h.log.Warnf("Gateway failure: %v", err)
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.log.Errorf("Request failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", common.ErrValidation)
	}
	return nil
}

func pathID(r *http.Request, vars map[string]string, name string) (int64, error) {
	id, err := strconv.ParseInt(vars[name], 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: invalid %s", common.ErrValidation, name)
	}
	return id, nil
}
