// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package http provides HTTP handlers for passkey ceremonies. The handlers
// can be mounted on any chi router. Verification failures caused by bad
// signatures, unknown credentials, or counter regressions all collapse to
// one generic 401 response; the precise cause is logged and counted but
// never disclosed to the client.
package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Handler provides HTTP handlers for passkey operations.
type Handler struct {
	service *passkey.Service
	logger  *slog.Logger
}

// NewHandler creates a new passkey HTTP handler.
func NewHandler(service *passkey.Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// RegistrationOptions handles POST /registration/options
//
// Request body:
//
//	{
//	    "account_id": "user-42",
//	    "label": "MacBook Pro",      // optional
//	    "attachment": "platform"     // optional
//	}
//
// Response: WebAuthn PublicKeyCredentialCreationOptions
func (h *Handler) RegistrationOptions(w http.ResponseWriter, r *http.Request) {
	var req RegistrationOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	if req.AccountID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "account_id is required")
		return
	}

	switch passkey.Attachment(req.Attachment) {
	case passkey.AttachmentAny, passkey.AttachmentPlatform, passkey.AttachmentCrossPlatform:
	default:
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attachment")
		return
	}

	options, err := h.service.BeginRegistration(r.Context(), req.AccountID, req.Label, passkey.Attachment(req.Attachment))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, options)
}

// RegistrationVerify handles POST /registration/verify
//
// Request body:
//
//	{
//	    "account_id": "user-42",
//	    "label": "MacBook Pro",  // optional
//	    "response": { ... }      // attestation response from authenticator
//	}
//
// Response: CredentialResponse for the newly enrolled credential
func (h *Handler) RegistrationVerify(w http.ResponseWriter, r *http.Request) {
	var req RegistrationVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	if req.AccountID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "account_id is required")
		return
	}
	if len(req.Response) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "response is required")
		return
	}

	cred, err := h.service.FinishRegistration(r.Context(), req.AccountID, req.Label, req.Response)
	if err != nil {
		h.handleVerifyError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toCredentialResponse(cred))
}

// AuthenticationOptions handles POST /authentication/options
//
// Request body (optional; an empty body selects the discoverable flow):
//
//	{
//	    "account_id": "user-42"
//	}
//
// Response: WebAuthn PublicKeyCredentialRequestOptions
func (h *Handler) AuthenticationOptions(w http.ResponseWriter, r *http.Request) {
	var req AuthenticationOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An empty body selects the discoverable flow; anything else
		// that fails to decode is a malformed request.
		if !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
			return
		}
		req = AuthenticationOptionsRequest{}
	}

	options, err := h.service.BeginAuthentication(r.Context(), req.AccountID)
	if err != nil {
		if passkey.IsCredentialNotFound(err) {
			h.writeError(w, http.StatusNotFound, ErrorCodeNoCredentials, "account has no registered credentials")
			return
		}
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, options)
}

// AuthenticationVerify handles POST /authentication/verify
//
// Request body: the assertion response from the authenticator, unwrapped.
// Response: AuthVerifyResponse with the proven account identity
func (h *Handler) AuthenticationVerify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "request body is required")
		return
	}

	result, err := h.service.FinishAuthentication(r.Context(), body)
	if err != nil {
		h.handleVerifyError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, AuthVerifyResponse{
		AccountID:    result.AccountID,
		CredentialID: result.Credential.EncodedID(),
		Token:        result.Token,
	})
}

// ListCredentials handles GET /credentials?account_id=...
//
// Response: array of CredentialResponse, empty when none are enrolled
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "account_id is required")
		return
	}

	creds, err := h.service.Credentials(r.Context(), accountID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	out := make([]CredentialResponse, len(creds))
	for i, cred := range creds {
		out[i] = toCredentialResponse(cred)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// DeleteCredential handles DELETE /credentials/{id}
//
// The path parameter is the base64url-encoded credential ID.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	encoded := chi.URLParam(r, "id")
	credID, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid credential ID encoding")
		return
	}

	if err := h.service.RemoveCredential(r.Context(), credID); err != nil {
		if passkey.IsCredentialNotFound(err) {
			h.writeError(w, http.StatusNotFound, ErrorCodeNotFound, "credential not found")
			return
		}
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleVerifyError maps ceremony verification errors to HTTP responses.
// Signature failures, unknown credentials, and counter regressions are
// indistinguishable to the client.
func (h *Handler) handleVerifyError(w http.ResponseWriter, err error) {
	switch {
	case passkey.IsSecuritySignal(err), passkey.IsCredentialNotFound(err):
		h.logger.Warn("ceremony verification rejected", "error", err)
		h.writeError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "verification failed")
	case passkey.IsUnknownChallenge(err):
		h.writeError(w, http.StatusBadRequest, ErrorCodeUnknownChallenge, "unknown or expired challenge")
	case errors.Is(err, passkey.ErrCeremonyMismatch):
		h.writeError(w, http.StatusBadRequest, ErrorCodeCeremonyMismatch, "ceremony mismatch")
	case errors.Is(err, passkey.ErrOriginMismatch):
		h.writeError(w, http.StatusBadRequest, ErrorCodeOriginMismatch, "origin not allowed")
	case errors.Is(err, passkey.ErrMalformedResponse):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid authenticator response")
	case passkey.IsDuplicateCredential(err):
		h.writeError(w, http.StatusConflict, ErrorCodeDuplicate, "credential already registered")
	default:
		h.handleServiceError(w, err)
	}
}

// handleServiceError maps remaining service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	h.logger.Error("passkey service error", "error", err)
	h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

func toCredentialResponse(cred *passkey.Credential) CredentialResponse {
	out := CredentialResponse{
		ID:        cred.EncodedID(),
		AccountID: cred.AccountID,
		Label:     cred.Label,
		SignCount: cred.SignCount,
		CreatedAt: cred.CreatedAt.Format(time.RFC3339),
	}
	if !cred.LastUsedAt.IsZero() {
		out.LastUsedAt = cred.LastUsedAt.Format(time.RFC3339)
	}
	return out
}
