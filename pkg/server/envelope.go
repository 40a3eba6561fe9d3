// Copyright 2025 Certen Protocol
//
// Shared HTTP response helpers: the {code, message, details} error
// envelope (spec.md §6) and a thin JSON-body reader.

package server

import (
	"encoding/json"
	"net/http"

	"github.com/creditmesh/hub/pkg/apperr"
)

type errorEnvelope struct {
	Code    apperr.Code            `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

var statusByClass = map[apperr.Class]int{
	apperr.ClassClient:    http.StatusBadRequest,
	apperr.ClassCapacity:  http.StatusConflict,
	apperr.ClassTransient: http.StatusServiceUnavailable,
	apperr.ClassIntegrity: http.StatusInternalServerError,
	apperr.ClassInternal:  http.StatusInternalServerError,
}

func writeError(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Internal(err.Error())
	}
	status, ok := statusByClass[ae.Class]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorEnvelope{Code: ae.Code, Message: ae.Message, Details: ae.Details})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
