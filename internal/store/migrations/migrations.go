// Package migrations embeds the schema migrations for the bridge store. One
// version per logical table; migrations are additive and applied in ascending
// order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
