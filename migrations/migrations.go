// Package migrations embeds the per-clinic schema migrations.
package migrations

import "embed"

// FS holds the numbered SQL files applied by db.Migrator.
//
//go:embed *.sql
var FS embed.FS
