package engine

import (
	"errors"
	"time"

	"github.com/dbcore/novadb/internal/btree"
	"github.com/dbcore/novadb/internal/bufferpool"
	"github.com/dbcore/novadb/internal/storage"
)

var (
	ErrIndexNotFound  = errors.New("novasql: index not found")
	ErrIndexExists    = errors.New("novasql: index already exists")
	ErrIndexBadColumn = errors.New("novasql: index key column not found")
	ErrIndexBadKind   = errors.New("novasql: unsupported index kind")
	ErrIndexBadName   = errors.New("novasql: invalid index name")
	ErrIndexBadTable  = errors.New("novasql: invalid table name")
	ErrIndexBadKeyCol = errors.New("novasql: invalid key column")
)

// ListIndexes returns the indexes registered against a table.
func (db *Database) ListIndexes(table string) ([]IndexMeta, error) {
	if err := validateIdent(table); err != nil {
		return nil, ErrIndexBadTable
	}
	meta, err := db.readTableMeta(table)
	if err != nil {
		return nil, err
	}
	return append([]IndexMeta(nil), meta.Indexes...), nil
}

func (db *Database) findIndexMeta(meta *TableMeta, indexName string) (int, *IndexMeta) {
	for i := range meta.Indexes {
		if meta.Indexes[i].Name == indexName {
			return i, &meta.Indexes[i]
		}
	}
	return -1, nil
}

func (db *Database) hasColumn(meta *TableMeta, col string) bool {
	for i := range meta.Schema.Cols {
		if meta.Schema.Cols[i].Name == col {
			return true
		}
	}
	return false
}

func (db *Database) indexFileSet(table, index string) storage.LocalFileSet {
	return storage.LocalFileSet{
		Dir:  db.tableDir(),
		Base: table + "_idx_" + index,
	}
}

// CreateBTreeIndex registers an index and creates a new BTree handle. It does
// not backfill existing rows.
func (db *Database) CreateBTreeIndex(table, indexName, keyColumn string) (*btree.Tree, error) {
	if err := validateIdent(table); err != nil {
		return nil, ErrIndexBadTable
	}
	if err := validateIdent(indexName); err != nil {
		return nil, ErrIndexBadName
	}
	if err := validateIdent(keyColumn); err != nil {
		return nil, ErrIndexBadKeyCol
	}

	tmeta, err := db.readTableMeta(table)
	if err != nil {
		return nil, err
	}
	if !db.hasColumn(tmeta, keyColumn) {
		return nil, ErrIndexBadColumn
	}
	if _, im := db.findIndexMeta(tmeta, indexName); im != nil {
		return nil, ErrIndexExists
	}

	fs := db.indexFileSet(table, indexName)
	bp := bufferpool.NewPoolWithPolicy(db.SM, fs, bufferpool.DefaultCapacity, db.ReplacementPolicy)

	tree := btree.NewTree(db.SM, fs, bp)

	now := time.Now()
	tmeta.Indexes = append(tmeta.Indexes, IndexMeta{
		Name:      indexName,
		Kind:      IndexKindBTree,
		KeyColumn: keyColumn,
		FileBase:  fs.Base,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err := db.writeTableMeta(tmeta); err != nil {
		return nil, err
	}

	return tree, nil
}

// OpenBTreeIndex opens a previously registered index by name.
func (db *Database) OpenBTreeIndex(table, indexName string) (*btree.Tree, error) {
	if err := validateIdent(table); err != nil {
		return nil, ErrIndexBadTable
	}
	if err := validateIdent(indexName); err != nil {
		return nil, ErrIndexBadName
	}

	tmeta, err := db.readTableMeta(table)
	if err != nil {
		return nil, err
	}

	_, im := db.findIndexMeta(tmeta, indexName)
	if im == nil {
		return nil, ErrIndexNotFound
	}
	if im.Kind != IndexKindBTree {
		return nil, ErrIndexBadKind
	}

	fs := storage.LocalFileSet{Dir: db.tableDir(), Base: im.FileBase}
	bp := bufferpool.NewPoolWithPolicy(db.SM, fs, bufferpool.DefaultCapacity, db.ReplacementPolicy)

	return btree.OpenTree(db.SM, fs, bp)
}

// DropIndex drops the index's pages from the global pool (failing with
// bufferpool.ErrPagePinned if one is still pinned), then its on-disk files,
// and removes it from the registry. Pages cached in a dedicated Pool, such as
// the one OpenBTreeIndex builds, are not dropped.
func (db *Database) DropIndex(table, indexName string) error {
	if err := validateIdent(table); err != nil {
		return ErrIndexBadTable
	}
	if err := validateIdent(indexName); err != nil {
		return ErrIndexBadName
	}

	tmeta, err := db.readTableMeta(table)
	if err != nil {
		return err
	}

	pos, im := db.findIndexMeta(tmeta, indexName)
	if im == nil {
		return ErrIndexNotFound
	}
	if im.Kind != IndexKindBTree {
		return ErrIndexBadKind
	}

	fs := storage.LocalFileSet{Dir: db.tableDir(), Base: im.FileBase}
	if err := db.GP.DropFileSet(fs); err != nil {
		return err
	}
	if err := btree.DropIndex(fs); err != nil {
		return err
	}

	last := len(tmeta.Indexes) - 1
	tmeta.Indexes[pos] = tmeta.Indexes[last]
	tmeta.Indexes = tmeta.Indexes[:last]
	tmeta.UpdatedAt = time.Now()

	return db.writeTableMeta(tmeta)
}
