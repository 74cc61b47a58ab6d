package voxcart

import (
	"github.com/himanishpuri/VoxCart/pkg/voxcart/storage"
)

var _ Storage = (*storage.DBClient)(nil)

// NewSQLiteStorage opens (creating if needed) the SQLite database at dbPath.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}
