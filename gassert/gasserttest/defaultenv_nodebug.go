//go:build !debug

package gasserttest

import "github.com/gordian-engine/gdpos/gassert"

// DefaultEnv returns the zero Env; without the debug tag no checks are compiled in.
func DefaultEnv() gassert.Env {
	return gassert.Env{}
}
