// Package migrations embeds the SQL migration files for the Postgres
// document store backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
