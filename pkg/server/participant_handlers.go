// Copyright 2025 Certen Protocol
//
// Participant and trust-line HTTP handlers (spec.md §6).

package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/apperr"
	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/events"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/ledger"
)

// ParticipantHandlers serves participant registration.
type ParticipantHandlers struct {
	store *ledger.Store
}

func NewParticipantHandlers(store *ledger.Store) *ParticipantHandlers {
	return &ParticipantHandlers{store: store}
}

type registerParticipantRequest struct {
	PublicKey   string `json:"public_key"` // base64
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	Signature   string `json:"signature"` // base64, over canonical_json({op: "participant.create", ...})
}

// HandleRegister implements register_participant: create a participant
// after verifying the supplied signature proves possession of the key.
func (h *ParticipantHandlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerParticipantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}

	pubKey, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		writeError(w, apperr.Validation("public_key must be base64"))
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeError(w, apperr.Validation("signature must be base64"))
		return
	}

	pid, err := identity.DerivePID(pubKey)
	if err != nil {
		writeError(w, apperr.Validation("invalid public key").WithCause(err))
		return
	}

	signable, err := identity.MakeSignable(map[string]interface{}{
		"public_key":   req.PublicKey,
		"display_name": req.DisplayName,
		"type":         req.Type,
	}, "participant.create")
	if err != nil {
		writeError(w, apperr.Internal("canonicalize request").WithCause(err))
		return
	}
	if err := identity.VerifySignature(pubKey, signable, sig); err != nil {
		writeError(w, apperr.InvalidSignature("signature does not verify").WithCause(err))
		return
	}

	now := time.Now()
	participant := &database.Participant{
		PID:         pid,
		PublicKey:   pubKey,
		DisplayName: req.DisplayName,
		Type:        database.ParticipantType(req.Type),
		Status:      database.ParticipantActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.Repos.Participants.Create(r.Context(), participant); err != nil {
		if err == database.ErrAlreadyExists {
			writeError(w, apperr.Validation("participant already registered"))
			return
		}
		writeError(w, apperr.Internal("create participant").WithCause(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"pid": string(pid)})
}

// TrustLineHandlers serves trust-line create/update/close.
type TrustLineHandlers struct {
	store *ledger.Store
	sink  events.Sink
}

func NewTrustLineHandlers(store *ledger.Store, sink events.Sink) *TrustLineHandlers {
	return &TrustLineHandlers{store: store, sink: sink}
}

// verifySignature re-derives the signable bytes for opTag and checks sig
// against the caller's registered public key (spec.md §6's per-operation
// signature requirement, the same convention register_participant uses).
func verifySignature(ctx context.Context, store *ledger.Store, pid identity.PID, payload map[string]interface{}, opTag string, sig []byte) error {
	participant, err := store.Repos.Participants.Get(ctx, pid)
	if err != nil {
		return apperr.Forbidden("unknown participant").WithCause(err)
	}
	signable, err := identity.MakeSignable(payload, opTag)
	if err != nil {
		return apperr.Internal("canonicalize request").WithCause(err)
	}
	if err := identity.VerifySignature(participant.PublicKey, signable, sig); err != nil {
		return apperr.InvalidSignature("signature does not verify").WithCause(err)
	}
	return nil
}

type createTrustLineRequest struct {
	From         string                   `json:"from"`
	To           string                   `json:"to"`
	EquivalentID int64                    `json:"equivalent_id"`
	Limit        string                   `json:"limit"`
	Policy       database.TrustLinePolicy `json:"policy"`
	Signature    string                   `json:"signature"` // base64, over canonical_json({op: "trustline.create", ...})
}

// HandleCreate implements create_trustline. The caller must be the
// creditor (`from`): only the party extending credit can open the edge.
func (h *TrustLineHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerPID(r)
	var req createTrustLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	if identity.PID(req.From) != caller {
		writeError(w, apperr.Forbidden("trust lines can only be opened by the creditor"))
		return
	}
	limit, err := decimal.NewFromString(req.Limit)
	if err != nil || limit.Sign() < 0 {
		writeError(w, apperr.Validation("limit must be a non-negative decimal"))
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeError(w, apperr.Validation("signature must be base64"))
		return
	}
	if err := verifySignature(r.Context(), h.store, caller, map[string]interface{}{
		"from": req.From, "to": req.To, "equivalent_id": req.EquivalentID, "limit": req.Limit,
	}, "trustline.create", sig); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	tl := &database.TrustLine{
		ID:           uuid.New(),
		From:         identity.PID(req.From),
		To:           identity.PID(req.To),
		EquivalentID: req.EquivalentID,
		Limit:        limit,
		Policy:       req.Policy,
		Status:       database.TrustLineActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.Repos.TrustLines.Create(r.Context(), tl); err != nil {
		if err == database.ErrAlreadyExists {
			writeError(w, apperr.Validation("trust line already exists"))
			return
		}
		writeError(w, apperr.Internal("create trust line").WithCause(err))
		return
	}
	if h.sink != nil {
		h.sink.Emit(r.Context(), "TRUSTLINE_CREATED", map[string]interface{}{
			"id": tl.ID.String(), "from": string(tl.From), "to": string(tl.To),
		})
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": tl.ID.String()})
}

type updateTrustLineRequest struct {
	ID        string                   `json:"id"`
	NewLimit  string                   `json:"new_limit"`
	Policy    database.TrustLinePolicy `json:"policy"`
	Signature string                   `json:"signature"` // base64, over canonical_json({op: "trustline.update", ...})
}

// HandleUpdate implements update_trustline: the new limit must still
// cover the debt currently outstanding against it.
func (h *TrustLineHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerPID(r)
	var req updateTrustLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, apperr.Validation("invalid trust line id"))
		return
	}
	newLimit, err := decimal.NewFromString(req.NewLimit)
	if err != nil || newLimit.Sign() < 0 {
		writeError(w, apperr.Validation("new_limit must be a non-negative decimal"))
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeError(w, apperr.Validation("signature must be base64"))
		return
	}

	ctx := r.Context()
	tl, err := h.store.Repos.TrustLines.Get(ctx, id)
	if err != nil {
		writeError(w, apperr.Validation("trust line not found").WithCause(err))
		return
	}
	if tl.From != caller {
		writeError(w, apperr.Forbidden("trust lines can only be modified by the creditor"))
		return
	}
	if err := verifySignature(ctx, h.store, caller, map[string]interface{}{
		"id": req.ID, "new_limit": req.NewLimit,
	}, "trustline.update", sig); err != nil {
		writeError(w, err)
		return
	}
	debt, err := h.store.Repos.Debts.Get(ctx, tl.EquivalentID, tl.To, tl.From)
	if err != nil {
		writeError(w, apperr.Internal("read outstanding debt").WithCause(err))
		return
	}
	if newLimit.LessThan(debt) {
		writeError(w, apperr.Validation("new_limit is below outstanding debt").WithDetails(map[string]interface{}{
			"outstanding_debt": debt.String(),
		}))
		return
	}
	if err := h.store.Repos.TrustLines.UpdateLimit(ctx, id, newLimit); err != nil {
		writeError(w, apperr.Internal("update trust line limit").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id.String()})
}

type closeTrustLineRequest struct {
	ID        string `json:"id"`
	Signature string `json:"signature"` // base64, over canonical_json({op: "trustline.close", ...})
}

// HandleClose implements close_trustline: the debtor must owe the
// creditor nothing before the line can retire.
func (h *TrustLineHandlers) HandleClose(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerPID(r)
	var req closeTrustLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, apperr.Validation("invalid trust line id"))
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeError(w, apperr.Validation("signature must be base64"))
		return
	}

	ctx := r.Context()
	tl, err := h.store.Repos.TrustLines.Get(ctx, id)
	if err != nil {
		writeError(w, apperr.Validation("trust line not found").WithCause(err))
		return
	}
	if tl.From != caller {
		writeError(w, apperr.Forbidden("trust lines can only be closed by the creditor"))
		return
	}
	if err := verifySignature(ctx, h.store, caller, map[string]interface{}{
		"id": req.ID,
	}, "trustline.close", sig); err != nil {
		writeError(w, err)
		return
	}
	debt, err := h.store.Repos.Debts.Get(ctx, tl.EquivalentID, tl.To, tl.From)
	if err != nil {
		writeError(w, apperr.Internal("read outstanding debt").WithCause(err))
		return
	}
	if !debt.IsZero() {
		writeError(w, apperr.TrustLineNotActive("debt outstanding").WithDetails(map[string]interface{}{
			"outstanding_debt": debt.String(),
		}))
		return
	}
	if err := h.store.Repos.TrustLines.UpdateStatus(ctx, id, database.TrustLineClosed); err != nil {
		writeError(w, apperr.Internal("close trust line").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id.String()})
}
