// Package migrations embeds the SQL schema for the users and refresh_tokens tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
