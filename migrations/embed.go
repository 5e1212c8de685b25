package migrations

import "embed"

// Files embeds the SQL schema migrations.
//
//go:embed *.sql
var Files embed.FS
