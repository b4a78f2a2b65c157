// Package migrations holds the embedded SQL schema, applied with goose at
// server start.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
