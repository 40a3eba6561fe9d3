// Copyright 2025 Certen Protocol

package server

import (
	"net/http"
	"strconv"

	"github.com/creditmesh/hub/pkg/apperr"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/integrity"
	"github.com/creditmesh/hub/pkg/invariants"
	"github.com/creditmesh/hub/pkg/ledger"
)

// IntegrityHandlers serves the integrity surface: get_integrity_status,
// verify(E), audit_log(range) (spec.md §6).
type IntegrityHandlers struct {
	store    *ledger.Store
	sweeper  *integrity.Sweeper
}

func NewIntegrityHandlers(store *ledger.Store, sweeper *integrity.Sweeper) *IntegrityHandlers {
	return &IntegrityHandlers{store: store, sweeper: sweeper}
}

func (h *IntegrityHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	equivalentID, ok := parseEquivalentID(w, r)
	if !ok {
		return
	}
	cp, err := h.store.Repos.Checkpoints.Latest(r.Context(), equivalentID)
	if err != nil {
		writeError(w, apperr.Validation("no checkpoint recorded yet").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"equivalent_id":     cp.EquivalentID,
		"checksum":          cp.Checksum,
		"invariants_status": string(cp.InvariantsStatus),
		"checked_at":        cp.CreatedAt,
		"blocked":           h.sweeper.Blocked(equivalentID),
	})
}

func (h *IntegrityHandlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	equivalentID, ok := parseEquivalentID(w, r)
	if !ok {
		return
	}
	report, err := invariants.Check(r.Context(), h.store.Repos, equivalentID)
	if err != nil {
		writeError(w, apperr.Internal("run invariant check").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"passed":     report.Passed(),
		"violations": report.Violations,
	})
}

// HandleInclusionProof serves a Merkle inclusion proof for one debt row
// against the equivalent's latest integrity checkpoint, so a participant
// can verify their own balance was accounted for without trusting
// get_integrity_status alone.
func (h *IntegrityHandlers) HandleInclusionProof(w http.ResponseWriter, r *http.Request) {
	equivalentID, ok := parseEquivalentID(w, r)
	if !ok {
		return
	}
	debtor := r.URL.Query().Get("debtor")
	creditor := r.URL.Query().Get("creditor")
	if debtor == "" || creditor == "" {
		writeError(w, apperr.Validation("debtor and creditor query params are required"))
		return
	}

	proof, err := h.sweeper.InclusionProof(r.Context(), equivalentID, identity.PID(debtor), identity.PID(creditor))
	if err != nil {
		writeError(w, apperr.Validation("cannot produce inclusion proof").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (h *IntegrityHandlers) HandleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := h.store.Repos.AuditLog.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, apperr.Internal("list audit log").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseEquivalentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v := r.URL.Query().Get("equivalent_id")
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		writeError(w, apperr.Validation("invalid equivalent_id"))
		return 0, false
	}
	return id, true
}
