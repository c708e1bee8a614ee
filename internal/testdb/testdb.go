// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb provides migrated throwaway databases for store tests.
package testdb

import (
	"path/filepath"
	"testing"

	"github.com/autobrr/gamerr/internal/database"
)

// New opens a fresh migrated database in the test's temp directory and
// closes it when the test finishes.
func New(t *testing.T) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gamerr-test.db")
	db, err := database.New(path)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close test database: %v", err)
		}
	})

	return db
}
