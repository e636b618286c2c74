// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the DDL statements for products, discount rules and API keys.
//
//go:embed migrations/001_schema.sql
var Schema string
