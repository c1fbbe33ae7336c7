// Package migrations embeds the SQL for the Postgres result store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
