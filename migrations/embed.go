// Package migrations holds the PostgreSQL schema. SQLite deployments create
// their schema on open instead.
package migrations

import "embed"

// FS contains the numbered up and down migrations.
//
//go:embed *.sql
var FS embed.FS
