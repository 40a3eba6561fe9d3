// Copyright 2025 Certen Protocol

package server

import (
	"encoding/base64"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/apperr"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/ledger"
	"github.com/creditmesh/hub/pkg/payment"
)

// PaymentHandlers serves create_payment and get_transaction.
type PaymentHandlers struct {
	store  *ledger.Store
	engine *payment.Engine
}

// NewPaymentHandlers wires the 2PC engine into the HTTP boundary. Commit
// is issued immediately after a successful prepare: this MVP has no
// separate client-driven commit step, matching spec.md §4.5's happy path.
func NewPaymentHandlers(store *ledger.Store, engine *payment.Engine) *PaymentHandlers {
	return &PaymentHandlers{store: store, engine: engine}
}

type createPaymentRequest struct {
	To           string `json:"to"`
	EquivalentID int64  `json:"equivalent_id"`
	Amount       string `json:"amount"`
	Description  string `json:"description"`
	Signature    string `json:"signature"` // base64, over canonical_json({op: "payment.create", ...})
}

// HandleCreate implements create_payment: route, prepare, and commit a
// payment from the authenticated caller to the named recipient.
func (h *PaymentHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerPID(r)
	if !ok {
		writeError(w, apperr.Forbidden("missing authenticated caller"))
		return
	}

	var req createPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, apperr.Validation("amount must be a positive decimal"))
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeError(w, apperr.Validation("signature must be base64"))
		return
	}
	if err := verifySignature(r.Context(), h.store, caller, map[string]interface{}{
		"to": req.To, "equivalent_id": req.EquivalentID, "amount": req.Amount, "description": req.Description,
	}, "payment.create", sig); err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.engine.Create(r.Context(), payment.Request{
		EquivalentID: req.EquivalentID,
		Payer:        caller,
		Payee:        identity.PID(req.To),
		Amount:       amount,
		Initiator:    caller,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.engine.Commit(r.Context(), tx.TxID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tx_id":  tx.TxID.String(),
		"state":  "COMMITTED",
		"amount": amount.String(),
	})
}

// HandleGet implements get_transaction.
func (h *PaymentHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	txIDParam := r.URL.Query().Get("tx_id")
	txID, err := uuid.Parse(txIDParam)
	if err != nil {
		writeError(w, apperr.Validation("invalid tx_id"))
		return
	}
	tx, err := h.engine.Transaction(r.Context(), txID)
	if err != nil {
		writeError(w, apperr.Validation("transaction not found").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tx_id": tx.TxID.String(),
		"type":  string(tx.Type),
		"state": string(tx.State),
	})
}
