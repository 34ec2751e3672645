// Package migrations embeds the SQL schema migrations so binaries and
// integration tests can apply them without a checkout.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files
//
//go:embed *.sql
var FS embed.FS
