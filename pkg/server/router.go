// Copyright 2025 Certen Protocol
//
// HTTP routing and bearer-token middleware. Matches the teacher's
// plain net/http.ServeMux + handler-struct pattern rather than reaching
// for a router framework: nothing in the example pack pulls one in.

package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/creditmesh/hub/pkg/apperr"
	"github.com/creditmesh/hub/pkg/auth"
	"github.com/creditmesh/hub/pkg/identity"
)

type contextKey string

const callerPIDKey contextKey = "caller_pid"

// Mux builds the hub's HTTP surface (spec.md §6's operation table).
func Mux(issuer *auth.Issuer, participants *ParticipantHandlers, trustLines *TrustLineHandlers, payments *PaymentHandlers, authHandlers *AuthHandlers, integrityHandlers *IntegrityHandlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/participants", participants.HandleRegister)
	mux.HandleFunc("/v1/auth/challenge", authHandlers.HandleChallenge)
	mux.HandleFunc("/v1/auth/login", authHandlers.HandleAuthenticate)
	mux.HandleFunc("/v1/auth/refresh", authHandlers.HandleRefresh)

	mux.Handle("/v1/trustlines", requireAuth(issuer, http.HandlerFunc(trustLines.HandleCreate)))
	mux.Handle("/v1/trustlines/update", requireAuth(issuer, http.HandlerFunc(trustLines.HandleUpdate)))
	mux.Handle("/v1/trustlines/close", requireAuth(issuer, http.HandlerFunc(trustLines.HandleClose)))

	mux.Handle("/v1/payments", requireAuth(issuer, http.HandlerFunc(payments.HandleCreate)))
	mux.Handle("/v1/payments/get", requireAuth(issuer, http.HandlerFunc(payments.HandleGet)))

	mux.HandleFunc("/v1/integrity/status", integrityHandlers.HandleStatus)
	mux.HandleFunc("/v1/integrity/verify", integrityHandlers.HandleVerify)
	mux.HandleFunc("/v1/integrity/audit-log", integrityHandlers.HandleAuditLog)
	mux.HandleFunc("/v1/integrity/proof", integrityHandlers.HandleInclusionProof)

	return mux
}

// requireAuth enforces a valid bearer access token and places the
// authenticated PID on the request context for handlers to read via
// callerPID.
func requireAuth(issuer *auth.Issuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, apperr.Forbidden("missing bearer token"))
			return
		}
		pid, err := issuer.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), callerPIDKey, pid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerPID(r *http.Request) (identity.PID, bool) {
	pid, ok := r.Context().Value(callerPIDKey).(identity.PID)
	return pid, ok
}
