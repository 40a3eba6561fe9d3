// Copyright 2025 Certen Protocol

package server

import (
	"encoding/base64"
	"net/http"

	"github.com/creditmesh/hub/pkg/apperr"
	"github.com/creditmesh/hub/pkg/auth"
	"github.com/creditmesh/hub/pkg/identity"
)

// AuthHandlers serves the challenge/login/refresh surface (spec.md §6).
type AuthHandlers struct {
	issuer *auth.Issuer
}

func NewAuthHandlers(issuer *auth.Issuer) *AuthHandlers {
	return &AuthHandlers{issuer: issuer}
}

type challengeRequest struct {
	PID string `json:"pid"`
}

func (h *AuthHandlers) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	nonce, err := h.issuer.IssueChallenge(r.Context(), identity.PID(req.PID))
	if err != nil {
		writeError(w, apperr.Internal("issue challenge").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nonce": nonce})
}

type authenticateRequest struct {
	PID       string `json:"pid"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"` // base64, over the raw nonce bytes
}

func (h *AuthHandlers) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeError(w, apperr.Validation("signature must be base64"))
		return
	}
	pair, err := h.issuer.Authenticate(r.Context(), identity.PID(req.PID), req.Nonce, sig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeTokenPair(w, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	pair, err := h.issuer.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeTokenPair(w, pair)
}

func writeTokenPair(w http.ResponseWriter, pair *auth.TokenPair) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.ExpiresAt,
	})
}
