// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const (
	retryAttempts  = 5
	retryBaseDelay = 200 * time.Millisecond
)

// WithRetry runs fn with bounded exponential backoff while the error is a
// transient lock conflict (SQLITE_BUSY / SQLITE_LOCKED). Other errors are
// returned immediately. Exhausted retries surface the last error.
func WithRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsBusyErr),
		retry.OnRetry(func(n uint, err error) {
			recordWriteRetry()
			log.Debug().Err(err).Uint("attempt", n+1).Msg("retrying database operation after lock conflict")
		}),
	)
}

// IsBusyErr reports whether err is a transient SQLite lock conflict that a
// bounded retry can resolve.
func IsBusyErr(err error) bool {
	if err == nil {
		return false
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		code := sqlErr.Code() & 0xff
		return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
	}

	return false
}
