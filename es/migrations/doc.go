// Package migrations provides SQL migration generation.
//
// To generate migrations, use the migrate-gen command:
//
//	go run github.com/getpup/eventlog/cmd/migrate-gen --output migrations
//
// Or add a go generate directive to your code:
//
//	//go:generate go run github.com/getpup/eventlog/cmd/migrate-gen --output ../../migrations
//
// Then run:
//
//	go generate ./...
//
// The schema is also available as a string (PostgresSQL, SQLiteSQL, MySQLSQL)
// for applications that apply it at startup.
package migrations
