// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb hands tests migrated SQLite databases without paying the
// migration cost per test. The first Open for a key runs the migrations once
// into a template file; every later Open clones that template into the
// test's own temp dir, so parallel tests never share a database.
package testdb

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/autobrr/brrdex/internal/database"
)

type template struct {
	key   string
	build sync.Once
	path  string
	err   error
}

var (
	registryMu sync.Mutex
	registry   = map[string]*template{}
)

// Open returns a migrated database backed by a fresh clone of the template
// for key, closed automatically when the test finishes.
func Open(t *testing.T, key string) *database.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "brrdex.db")
	if err := lookup(key).cloneTo(dbPath); err != nil {
		t.Fatalf("clone database template %q: %v", key, err)
	}

	db, err := database.New(dbPath)
	if err != nil {
		t.Fatalf("open test database %s: %v", dbPath, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func lookup(key string) *template {
	registryMu.Lock()
	defer registryMu.Unlock()

	tpl := registry[key]
	if tpl == nil {
		tpl = &template{key: key}
		registry[key] = tpl
	}
	return tpl
}

// cloneTo copies the migrated template database to dst, materializing the
// template on first use. WAL sidecar files ride along when present so the
// clone sees every checkpointed and pending page.
func (tpl *template) cloneTo(dst string) error {
	tpl.build.Do(func() {
		tpl.path, tpl.err = materialize(tpl.key)
	})
	if tpl.err != nil {
		return tpl.err
	}

	if err := copyFile(tpl.path, dst); err != nil {
		return err
	}
	for _, sidecar := range []string{"-wal", "-shm"} {
		src := tpl.path + sidecar
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := copyFile(src, dst+sidecar); err != nil {
			return err
		}
	}
	return nil
}

func materialize(key string) (string, error) {
	dir, err := os.MkdirTemp("", "brrdex-testdb-"+slug(key)+"-")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "template.db")
	db, err := database.New(path)
	if err != nil {
		return "", err
	}
	if err := db.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// slug flattens a template key into something safe for a temp dir name.
func slug(key string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, strings.TrimSpace(key))

	if s == "" {
		return "default"
	}
	return s
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
