//go:build !cgo

package sqlstore

import (
	"context"
	"fmt"
)

// DialectDoltEmbedded is the name of the in-process Dolt backend.
const DialectDoltEmbedded = "dolt-embedded"

// OpenEmbeddedDolt is unavailable without cgo.
func OpenEmbeddedDolt(ctx context.Context, dir, database, committer string) (*Store, error) {
	return nil, fmt.Errorf("embedded dolt requires a cgo build; use store.backend=dolt with a dolt sql-server instead")
}
