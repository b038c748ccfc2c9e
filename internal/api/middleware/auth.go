// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/api/ctxkeys"
	"github.com/autobrr/brrdex/internal/models"
)

// RequireAPIKey resolves the X-API-Key header (query params are promoted by
// APIKeyFromQuery on routes that allow them) against the user store and puts
// the matched user in the request context.
func RequireAPIKey(users *models.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				http.Error(w, "API key missing", http.StatusUnauthorized)
				return
			}

			user, err := users.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				if !errors.Is(err, models.ErrInvalidAPIKey) {
					log.Error().Err(err).Msg("Failed to validate API key")
					http.Error(w, "Internal server error", http.StatusInternalServerError)
					return
				}
				log.Warn().Str("remote_ip", clientIP(r)).Msg("Rejected request with invalid API key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxkeys.User, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user RequireAPIKey stored for this request.
// The bool is false on routes that never passed through authentication.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(ctxkeys.User).(*models.User)
	return user, ok
}
