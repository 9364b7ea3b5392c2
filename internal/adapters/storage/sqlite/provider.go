// Package sqlite provides the SQLite storage adapter for single-instance
// deployments.
package sqlite

import (
	"context"
	"fmt"
	"os"

	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/storage/sqldb"
)

// Provider implements ports.StorageProvider on a SQLite database.
type Provider struct {
	*sqldb.Store
	path string
}

// NewProvider opens (creating if needed) the database at path. Any DSN the
// modernc driver accepts works, including shared in-memory ones.
func NewProvider(path string) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	store, err := sqldb.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	return &Provider{Store: store, path: path}, nil
}

// Path is the DSN the provider was opened with.
func (p *Provider) Path() string {
	return p.path
}

// Backup writes a consistent copy of the database to dest while it stays
// online. dest must not exist yet.
func (p *Provider) Backup(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup destination %s already exists", dest)
	}
	if _, err := p.DB().ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("backup to %s: %w", dest, err)
	}
	return nil
}

var _ ports.StorageProvider = (*Provider)(nil)
