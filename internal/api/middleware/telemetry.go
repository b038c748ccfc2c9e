// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"context"
	"net"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/autobrr/brrdex/internal/api/ctxkeys"
	"github.com/autobrr/brrdex/internal/swarm"
)

const defaultLatencyThreshold = 250 * time.Millisecond

// Telemetry records per-request counters (requests, bytes in/out, client IPs,
// response times) in the swarm store after the response is written, and warns
// when a request runs past the latency threshold. Store failures are logged
// and swallowed; telemetry never fails a request.
//
// The threshold seeds a per-request holder that LatencyThreshold overrides
// for route groups with slower expected responses.
func Telemetry(store *swarm.Store, logger zerolog.Logger, threshold time.Duration) func(next http.Handler) http.Handler {
	if threshold <= 0 {
		threshold = defaultLatencyThreshold
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			limit := threshold
			r = r.WithContext(context.WithValue(r.Context(), ctxkeys.LatencyThreshold, &limit))

			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			var bytesIn int64
			if r.ContentLength > 0 {
				bytesIn = r.ContentLength
			}

			if err := store.TrackRequest(r.Context(), clientIP(r), bytesIn, int64(ww.BytesWritten()), elapsed); err != nil {
				logger.Debug().Err(err).Msg("Failed to record request telemetry")
			}

			if elapsed > limit {
				logger.Warn().Msgf("High response time (%d ms) - [%s] %s", elapsed.Milliseconds(), r.Method, requestPath(r))
			}
		})
	}
}

// LatencyThreshold overrides the high-latency warning cutoff for the routes
// it wraps. It must run below Telemetry, which owns the holder it writes.
func LatencyThreshold(d time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit, ok := r.Context().Value(ctxkeys.LatencyThreshold).(*time.Duration); ok {
				*limit = d
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port RemoteAddr usually carries. RealIP runs upstream,
// so behind a proxy RemoteAddr may already be a bare address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func requestPath(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}
