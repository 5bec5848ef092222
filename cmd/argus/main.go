// Package main provides the argus CLI for compiling authorization policies
// into PostgreSQL seed scripts.
//
// The CLI supports:
//   - compile:  Turn a policy manifest into an ordered SQL script
//   - validate: Strictly check manifest references before compiling
//   - apply:    Execute the compiled script against a database
//   - status:   Check whether the destination schema is present
//
// Commands that require database access (apply, status) need --db or a
// configured database section. compile and validate work on files only.
//
// Usage:
//
//	argus [flags] <command>
package main

func main() {
	Execute()
}
