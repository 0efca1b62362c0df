// Package dposstore contains the persistence interfaces used by the consensus engine.
//
// Stores copy rounds on the way in and on the way out;
// a caller may freely modify a round after saving it or loading it.
//
// See the dposmemstore package for in-memory implementations,
// and the dpossqlite package for SQLite-backed implementations.
package dposstore
