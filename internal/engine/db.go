package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dbcore/novadb/internal/bufferpool"
	"github.com/dbcore/novadb/internal/bufferpool/replacement"
	"github.com/dbcore/novadb/internal/heap"
	"github.com/dbcore/novadb/internal/record"
	"github.com/dbcore/novadb/internal/storage"
	"github.com/dbcore/novadb/internal/wal"
)

var (
	ErrDatabaseClosed  = errors.New("novasql: database is closed")
	ErrInvalidPageID   = errors.New("novasql: invalid page ID")
	ErrDatabaseExists  = errors.New("novasql: database already exists")
	ErrNoSuchDatabase  = errors.New("novasql: no such database")
	ErrInvalidDBName   = errors.New("novasql: invalid database name")
)

const defaultDBName = "default"
const tableMetaSuffix = ".meta.json"

type DatabaseOperation interface {
	CreateTable(name string, schema record.Schema) (*heap.Table, error)
	OpenTable(name string) (*heap.Table, error)
	Close() error
}

type TableMeta struct {
	Name      string        `json:"name"`
	Schema    record.Schema `json:"schema"`
	PageCount uint32        `json:"page_count"`
	Indexes   []IndexMeta   `json:"indexes,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IndexKind identifies which index implementation backs an IndexMeta entry.
type IndexKind string

const IndexKindBTree IndexKind = "btree"

// IndexMeta is stored inside TableMeta (table.meta.json) for every index
// registered against that table.
type IndexMeta struct {
	Name      string    `json:"name"`
	Kind      IndexKind `json:"kind"`
	KeyColumn string    `json:"key_column"`
	FileBase  string    `json:"file_base"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var _ DatabaseOperation = (*Database)(nil)

type Database struct {
	// Root is the directory holding one subdirectory per named database
	// (CREATE DATABASE/USE). DataDir is the currently selected one.
	Root    string
	DataDir string
	SM      *storage.StorageManager

	// ReplacementPolicy is the victim-selection strategy every per-table
	// buffer pool opened through CreateTable/OpenTable is built with.
	ReplacementPolicy replacement.Policy

	// GP is a shared global buffer pool used for ad-hoc FileSet access that
	// isn't routed through a *heap.Table, e.g. index lookups by the executor.
	GP *bufferpool.GlobalPool

	// WAL write-ahead-logs every page the background writer flushes from GP,
	// so a crash between a dirty write and its page image landing on disk
	// can be replayed from the log.
	WAL *wal.Manager

	bg       *bufferpool.BgWriter
	bgCancel context.CancelFunc

	current string

	// TODO: locks, catalog recovery from WAL on startup, ...
}

// NewDatabase creates a new database handle using the default buffer pool
// replacement policy. It opens (creating if needed) the write-ahead log under
// dataDir/wal, replays it, and starts the background writer.
func NewDatabase(dataDir string) *Database {
	return NewDatabaseWithPolicy(dataDir, replacement.DefaultPolicy)
}

// NewDatabaseWithPolicy is NewDatabase with an explicit replacement policy,
// for callers that read it from configuration.
func NewDatabaseWithPolicy(dataDir string, policy replacement.Policy) *Database {
	sm := storage.NewStorageManager()
	gp := bufferpool.NewGlobalPoolWithPolicy(sm, bufferpool.DefaultCapacity, policy)

	w, err := wal.Open(filepath.Join(dataDir, "wal"))
	if err != nil {
		slog.Warn("new database: wal open failed, continuing without durability", "err", err)
		w = nil
	} else if err := w.Recover(storage.NewWALWriter(sm)); err != nil {
		slog.Warn("new database: wal redo failed", "err", err)
	}

	db := &Database{
		Root:              dataDir,
		DataDir:           filepath.Join(dataDir, defaultDBName),
		SM:                sm,
		ReplacementPolicy: policy,
		GP:                gp,
		WAL:               w,
		current:           defaultDBName,
	}

	db.bg = bufferpool.NewBgWriter(gp, db.walLogger(), 200*time.Millisecond, 64)
	ctx, cancel := context.WithCancel(context.Background())
	db.bgCancel = cancel
	go db.bg.Run(ctx)

	return db
}

// walLogger adapts db.WAL to bufferpool.WALLogger, tolerating a nil WAL (e.g.
// when it failed to open) by handing the background writer a nil interface
// value, which it treats as "skip logging".
func (db *Database) walLogger() bufferpool.WALLogger {
	if db.WAL == nil {
		return nil
	}
	return db.WAL
}

func (db *Database) tableDir() string {
	return filepath.Join(db.DataDir, "tables")
}

func (db *Database) tableMetaPath(name string) string {
	return filepath.Join(db.tableDir(), name+".meta.json")
}

// helper: return FileSet for a given table name.
func (db *Database) tableFileSet(name string) storage.FileSet {
	return storage.LocalFileSet{
		Dir:  db.tableDir(),
		Base: name,
	}
}

// writeTableMeta overwrites the meta file for a given table.
func (db *Database) writeTableMeta(meta *TableMeta) error {
	path := db.tableMetaPath(meta.Name)

	if err := os.MkdirAll(db.tableDir(), 0o755); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// readTableMeta loads table metadata from JSON file.
func (db *Database) readTableMeta(name string) (*TableMeta, error) {
	path := db.tableMetaPath(name)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta TableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (db *Database) CreateTable(name string, schema record.Schema) (*heap.Table, error) {
	fs := db.tableFileSet(name)
	bp := bufferpool.NewPoolWithPolicy(db.SM, fs, bufferpool.DefaultCapacity, db.ReplacementPolicy)

	meta := &TableMeta{
		Name:      name,
		Schema:    schema,
		PageCount: 0,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.writeTableMeta(meta); err != nil {
		return nil, err
	}

	// Overflow data for this table is stored in a separate fileset with a
	// deterministic naming convention: "<table>_ovf".
	overflowFS := storage.LocalFileSet{
		Dir:  db.tableDir(),
		Base: name + "_ovf",
	}
	ovf := storage.NewOverflowManager(db.SM, overflowFS)

	tbl := heap.NewTable(name, schema, db.SM, fs, bp, ovf, 0)
	return tbl, nil
}

func (db *Database) OpenTable(name string) (*heap.Table, error) {
	fs := db.tableFileSet(name)

	meta, err := db.readTableMeta(name)
	if err != nil {
		return nil, err
	}

	// Count pages on disk as the single source of truth.
	pageCount, err := db.SM.CountPages(fs)
	if err != nil {
		return nil, err
	}

	// Refresh meta PageCount snapshot.
	meta.PageCount = pageCount
	meta.UpdatedAt = time.Now()

	// Best-effort update; if this fails, we still can open the table.
	if err := db.writeTableMeta(meta); err != nil {
		slog.Info("open table:: error write table meta", "err", err)
	}

	bp := bufferpool.NewPoolWithPolicy(db.SM, fs, bufferpool.DefaultCapacity, db.ReplacementPolicy)

	// Rebuild the overflow manager for this table based on the same naming
	// convention used in CreateTable.
	overflowFS := storage.LocalFileSet{
		Dir:  db.tableDir(),
		Base: name + "_ovf",
	}
	ovf := storage.NewOverflowManager(db.SM, overflowFS)

	tbl := heap.NewTable(name, meta.Schema, db.SM, fs, bp, ovf, pageCount)
	return tbl, nil
}

func (db *Database) Close() error {
	if db.bgCancel != nil {
		db.bgCancel()
	}
	// TODO: later - keep track of opened tables and flush all buffer pools.
	if err := db.GP.FlushAll(); err != nil {
		return err
	}
	if db.WAL != nil {
		return db.WAL.Close()
	}
	return nil
}

// TableDir exposes the current database's table directory, for callers (the
// executor, building ad-hoc index FileSets) that need it outside of
// CreateTable/OpenTable.
func (db *Database) TableDir() string { return db.tableDir() }

// StorageManager returns the shared page I/O manager.
func (db *Database) StorageManager() *storage.StorageManager { return db.SM }

// BufferView returns a relation-scoped Manager backed by the shared global
// buffer pool, for FileSets the caller doesn't open through CreateTable or
// OpenTable (e.g. index lookups).
func (db *Database) BufferView(fs storage.FileSet) bufferpool.Manager {
	return db.GP.View(fs)
}

// ListTables enumerates every table registered in the current database by
// scanning its table-meta files.
func (db *Database) ListTables() ([]*TableMeta, error) {
	ents, err := os.ReadDir(db.tableDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var metas []*TableMeta
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tableMetaSuffix) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), tableMetaSuffix)
		meta, err := db.readTableMeta(name)
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// DropTable removes a table's on-disk segments, overflow data and meta file,
// and invalidates any pages the global pool is still caching for it.
func (db *Database) DropTable(name string) error {
	fs := db.tableFileSet(name)
	if err := db.GP.DropFileSet(fs); err != nil {
		return err
	}
	if lfs, ok := fs.(storage.LocalFileSet); ok {
		if err := storage.RemoveAllSegments(lfs); err != nil {
			return err
		}
	}

	overflowFS := storage.LocalFileSet{Dir: db.tableDir(), Base: name + "_ovf"}
	if err := db.GP.DropFileSet(overflowFS); err != nil {
		return err
	}
	_ = storage.RemoveAllSegments(overflowFS)

	path := db.tableMetaPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CreateDatabase creates a new named database directory under Root.
func (db *Database) CreateDatabase(name string) error {
	if err := validateIdent(name); err != nil {
		return ErrInvalidDBName
	}
	dir := filepath.Join(db.Root, name)
	if _, err := os.Stat(dir); err == nil {
		return ErrDatabaseExists
	}
	return os.MkdirAll(filepath.Join(dir, "tables"), 0o755)
}

// DropDatabase removes a named database directory entirely. It refuses to
// drop the currently selected database.
func (db *Database) DropDatabase(name string) (any, error) {
	if err := validateIdent(name); err != nil {
		return nil, ErrInvalidDBName
	}
	if name == db.current {
		return nil, fmt.Errorf("novasql: cannot drop the currently selected database %q", name)
	}
	dir := filepath.Join(db.Root, name)
	if _, err := os.Stat(dir); err != nil {
		return nil, ErrNoSuchDatabase
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	return nil, nil
}

// SelectDatabase switches the current database (USE <name>). The database
// must already exist.
func (db *Database) SelectDatabase(name string) (any, error) {
	if err := validateIdent(name); err != nil {
		return nil, ErrInvalidDBName
	}
	dir := filepath.Join(db.Root, name)
	if _, err := os.Stat(dir); err != nil {
		return nil, ErrNoSuchDatabase
	}
	db.current = name
	db.DataDir = dir
	return nil, nil
}

// validateIdent rejects identifiers that would escape the data directory or
// are otherwise not safe to use as a path component.
func validateIdent(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("novasql: invalid identifier %q", name)
	}
	return nil
}

// Not supported yet: we do not have a real ALTER TABLE that rewrites data.
// UpdateTableSchema only updates the meta file schema definition.
func (db *Database) UpdateTableSchema(name string, newSchema record.Schema) error {
	meta, err := db.readTableMeta(name)
	if err != nil {
		return err
	}

	meta.Schema = newSchema
	meta.UpdatedAt = time.Now()

	return db.writeTableMeta(meta)
}

// SyncTableMetaPageCount updates the table meta when only PageCount changes.
func (db *Database) SyncTableMetaPageCount(tbl *heap.Table) error {
	meta, err := db.readTableMeta(tbl.Name)
	if err != nil {
		return err
	}
	meta.PageCount = tbl.PageCount
	return db.writeTableMeta(meta)
}
