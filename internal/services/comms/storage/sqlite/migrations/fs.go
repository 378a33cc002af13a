// Package migrations embeds the comms SQLite schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
