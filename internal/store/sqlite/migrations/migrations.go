// Package migrations embeds the goose migration files for the local replica.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
