//go:build debug

package gasserttest

import "github.com/gordian-engine/gdpos/gassert"

// DefaultEnv returns an environment with every invariant check enabled,
// for engines built in tests.
func DefaultEnv() gassert.Env {
	env, err := gassert.EnvironmentFromString("*")
	if err != nil {
		panic(err)
	}
	return env
}
