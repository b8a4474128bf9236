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

package http

import (
	"github.com/go-chi/chi/v5"
)

// MountChi mounts passkey routes on a chi router.
//
// Example:
//
//	handler := passkeyhttp.NewHandler(svc)
//	r.Route("/api/v1/passkeys", func(r chi.Router) {
//	    passkeyhttp.MountChi(r, handler)
//	})
func MountChi(r chi.Router, h *Handler) {
	r.Post("/registration/options", h.RegistrationOptions)
	r.Post("/registration/verify", h.RegistrationVerify)
	r.Post("/authentication/options", h.AuthenticationOptions)
	r.Post("/authentication/verify", h.AuthenticationVerify)
	r.Get("/credentials", h.ListCredentials)
	r.Delete("/credentials/{id}", h.DeleteCredential)
}
