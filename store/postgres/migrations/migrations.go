package migrations

import "embed"

// Files contains the PostgreSQL schema migrations, applied in name order.
//
//go:embed *.sql
var Files embed.FS
