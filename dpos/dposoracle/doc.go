// Package dposoracle defines the external inputs to round generation:
// the election result at each term boundary,
// and a randomness beacon whose output for a height
// cannot be known before a block at that height is committed to.
package dposoracle
