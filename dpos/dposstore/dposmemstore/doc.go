// Package dposmemstore contains in-memory implementations of the [dposstore] interfaces.
// They are primarily intended for tests and simulations.
package dposmemstore
