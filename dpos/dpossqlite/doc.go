// Package dpossqlite contains SQLite-backed implementations of the [dposstore] interfaces.
//
// By default the store uses the cgo SQLite driver (github.com/mattn/go-sqlite3).
// Building with the purego tag, or with cgo disabled,
// switches to the pure Go driver (modernc.org/sqlite).
package dpossqlite
