// Package migrations embeds the schema of the admission-control subsystem.
package migrations

import "embed"

// SQL holds the versioned up/down migrations under sql/.
//
//go:embed sql/*.sql
var SQL embed.FS
