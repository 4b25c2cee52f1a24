// Package migrations guarda o schema SQLite aplicado pelo goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
