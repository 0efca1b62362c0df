// Package gassert provides runtime assertions for internal consistency checks.
//
// Checking every invariant on every state transition is too expensive for production,
// so assertions are compiled in only with the "debug" build tag
// (go build -tags debug, go test -tags debug).
// Even then, each assertion is guarded by a dot-separated rule name,
// and only rules enabled in the [Env] are evaluated.
//
// Rules are given as a comma-separated list to [EnvironmentFromString]:
//   - "*" enables everything.
//   - "dposengine.*" enables every rule under dposengine.
//   - "dposengine.lib.monotonic" enables exactly that rule.
//   - "!dposengine.lib.monotonic" excludes that exact rule from an otherwise matching wildcard.
//
// A wildcard may only be the final segment.
// Exclusions may not contain wildcards.
package gassert
