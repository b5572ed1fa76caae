// Package directory is the read-only Client Directory collaborator: the
// billing core resolves billing parties by id here and owns none of the data.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"billing-core/errs"

	"gorm.io/gorm"
)

// Client is the slice of the directory record the billing core needs.
type Client struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientDirectory resolves a billing party by id. Resolve must complete
// before any store transaction opens; implementations may hit the network.
type ClientDirectory interface {
	Resolve(ctx context.Context, clientID string) (*Client, error)
}

// DBDirectory reads the externally maintained clients table. The table is
// never written by this service.
type DBDirectory struct {
	db *gorm.DB
}

func NewDBDirectory(db *gorm.DB) *DBDirectory {
	return &DBDirectory{db: db}
}

func (d *DBDirectory) Resolve(ctx context.Context, clientID string) (*Client, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, errs.Validationf("client id is empty")
	}
	var c Client
	err := d.db.WithContext(ctx).First(&c, "id = ?", clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFoundf("client %s", clientID)
	}
	if err != nil {
		return nil, errs.Storagef("resolve client", err)
	}
	if !c.Active {
		return nil, errs.NotFoundf("client %s is inactive", clientID)
	}
	return &c, nil
}
