// Package dbmigrations exposes the embedded trade journal migrations.
package dbmigrations

import "embed"

// Files contains the SQL migrations bundled into the bridge binaries.
//
//go:embed *.sql
var Files embed.FS
