//go:build !debug

package gassert

// Env is the assertion environment.
//
// In non-debug builds, Env is an empty struct with no methods,
// so code that calls into it must itself be guarded by the "debug" build tag.
// In debug builds, Env is an alias to *Environment.
type Env struct{}
