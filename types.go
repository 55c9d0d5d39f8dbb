package novasql

import (
	"github.com/dbcore/novadb/internal/bufferpool/replacement"
	"github.com/dbcore/novadb/internal/engine"
)

// Package novasql is the top-level facade for the NovaSQL engine.
type Database = engine.Database

type TableMeta = engine.TableMeta

type IndexMeta = engine.IndexMeta

type IndexKind = engine.IndexKind

const IndexKindBTree = engine.IndexKindBTree

// NewDatabase opens a database rooted at dataDir using the default buffer
// pool replacement policy.
func NewDatabase(dataDir string) *Database {
	return engine.NewDatabase(dataDir)
}

// NewDatabaseWithPolicy is NewDatabase with an explicit replacement policy.
func NewDatabaseWithPolicy(dataDir string, policy replacement.Policy) *Database {
	return engine.NewDatabaseWithPolicy(dataDir, policy)
}
