package migrations

import "embed"

// FS contains the embedded SQLite schema for the match store.
//
//go:embed *.sql
var FS embed.FS
