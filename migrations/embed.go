// Package migrations embeds the SQL migration files.
package migrations

import "embed"

// PostgresFS holds the postgres migrations, one {version}_{name}.sql each.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// PostgresDir is the directory within PostgresFS where migrations live.
const PostgresDir = "postgres"
