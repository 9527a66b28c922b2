// Package migrations embeds the schema migrations for the mailbox database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
