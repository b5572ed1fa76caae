// Package testutil provides the in-memory database and collaborator fakes
// shared by package tests.
package testutil

import (
	"context"
	"testing"

	"billing-core/database"
	"billing-core/directory"
	"billing-core/errs"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewTestDB opens a fresh in-memory sqlite database with the full schema
// applied. Single connection: sqlite :memory: databases are per-connection.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

// FakeDirectory resolves only the client ids it was seeded with.
type FakeDirectory struct {
	Known map[string]bool
}

func NewFakeDirectory(ids ...string) *FakeDirectory {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return &FakeDirectory{Known: known}
}

func (f *FakeDirectory) Resolve(ctx context.Context, clientID string) (*directory.Client, error) {
	if !f.Known[clientID] {
		return nil, errs.NotFoundf("client %s", clientID)
	}
	return &directory.Client{ID: clientID, Active: true}, nil
}

// Forget drops a client so later resolutions fail, simulating a billing
// party removed from the directory.
func (f *FakeDirectory) Forget(clientID string) {
	delete(f.Known, clientID)
}
