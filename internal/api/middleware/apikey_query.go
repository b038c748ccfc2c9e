// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import "net/http"

// APIKeyFromQuery promotes an API key query param into the X-API-Key header
// so RequireAPIKey can validate it. Torznab clients like Prowlarr and Sonarr
// only send the key as ?apikey=, never as a header, so the Torznab routes
// mount this in front of the auth check.
func APIKeyFromQuery(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") == "" {
				if key := r.URL.Query().Get(param); key != "" {
					r.Header.Set("X-API-Key", key)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
