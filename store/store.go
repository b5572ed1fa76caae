// Package store is the durable, transactional ground truth for invoices and
// billing records. All mutation in the system goes through it; components
// receive the Store handle at construction and never share cached state.
package store

import (
	"billing-core/directory"

	"gorm.io/gorm"
)

type Store struct {
	db  *gorm.DB
	dir directory.ClientDirectory
}

func New(db *gorm.DB, dir directory.ClientDirectory) *Store {
	return &Store{db: db, dir: dir}
}
