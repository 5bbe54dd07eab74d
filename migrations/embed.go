// Package migrations holds the goose SQL migrations for every SQL backend.
package migrations

import "embed"

// FS contains the sqlite/ and clickhouse/ migration directories.
//
//go:embed sqlite/*.sql clickhouse/*.sql
var FS embed.FS
