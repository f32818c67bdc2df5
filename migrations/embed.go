// Package migrations embeds the SQL schema applied by scripts/migrate.
package migrations

import "embed"

// Files holds the ordered *.sql migrations.
//
//go:embed *.sql
var Files embed.FS
