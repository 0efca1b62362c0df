// Package dposvalidate checks a block's consensus payload
// against the round state it would apply to.
//
// [Pipeline.Validate] runs a fixed sequence of validators.
// The first failure aborts validation with a [*RejectionError]
// naming the validator and wrapping the cause.
// Validators only read their input; applying an accepted payload
// is the caller's job, and happens only after every validator passes.
package dposvalidate
