// Package memory implements the store driver on in-process maps. Default
// driver; nothing survives a restart.
package memory

import (
	"context"

	"github.com/opendochost/wopihost/internal/credentials"
	"github.com/opendochost/wopihost/internal/share"
	"github.com/opendochost/wopihost/internal/store"
)

func init() {
	store.Register("memory", func(cfg *store.DriverConfig) (store.Driver, error) {
		return NewDriver(), nil
	})
}

// Driver implements store.Driver with in-memory repositories.
type Driver struct {
	shares *share.MemoryRepo
	creds  *credentials.MemoryRepo
}

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		shares: share.NewMemoryRepo(),
		creds:  credentials.NewMemoryRepo(),
	}
}

func (d *Driver) Init(ctx context.Context) error { return nil }

func (d *Driver) Close() error { return nil }

func (d *Driver) Name() string { return "memory" }

func (d *Driver) Shares() share.Repo { return d.shares }

func (d *Driver) Credentials() credentials.Repo { return d.creds }

var _ store.Driver = (*Driver)(nil)
