// Package migrations embeds the postgres schema of the stock ledger so the
// binaries can migrate without a migrations directory on disk.
package migrations

import "embed"

// FS holds the numbered *.up.sql and *.down.sql files
//
//go:embed *.sql
var FS embed.FS
