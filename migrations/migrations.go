// Package migrations embeds the PostgreSQL schema applied at startup by
// database.RunMigrations.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.up.sql
var FS embed.FS
