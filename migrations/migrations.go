// Package migrations embeds the schema and seed SQL shipped with the
// service binaries.
package migrations

import "embed"

//go:embed *.sql seeds/*.sql
var Files embed.FS
