package dposconsensus

import (
	"errors"
	"fmt"
)

// LibRule parameterizes the fault-tolerance assumptions
// behind the last irreversible block calculation.
type LibRule struct {
	// Quorum(n) is n*ConsentNumerator/ConsentDenominator + 1.
	ConsentNumerator   int
	ConsentDenominator int

	// The LIB is the implied height at position (count-1)/RankDivisor
	// of the ascending sorted contributions.
	RankDivisor int
}

// DefaultLibRule tolerates fewer than one third faulty miners.
var DefaultLibRule = LibRule{
	ConsentNumerator:   2,
	ConsentDenominator: 3,
	RankDivisor:        3,
}

func (r LibRule) Validate() error {
	var errs []error
	if r.ConsentDenominator <= 0 {
		errs = append(errs, ConfigError{Field: "Lib.ConsentDenominator", Reason: "must be positive"})
	}
	if r.ConsentNumerator < 0 || (r.ConsentDenominator > 0 && r.ConsentNumerator > r.ConsentDenominator) {
		errs = append(errs, ConfigError{
			Field:  "Lib.ConsentNumerator",
			Reason: fmt.Sprintf("must be in [0, %d]", r.ConsentDenominator),
		})
	}
	if r.RankDivisor <= 0 {
		errs = append(errs, ConfigError{Field: "Lib.RankDivisor", Reason: "must be positive"})
	}
	return errors.Join(errs...)
}

// Quorum returns the minimum number of contributing miners, out of n,
// before the irreversible height may advance.
// Use with >=.
func (r LibRule) Quorum(n int) int {
	return n*r.ConsentNumerator/r.ConsentDenominator + 1
}

// Rank returns the index into count ascending sorted contributions.
// Rank panics if count is not positive.
func (r LibRule) Rank(count int) int {
	if count <= 0 {
		panic(fmt.Errorf("BUG: LibRule.Rank called with count %d", count))
	}
	return (count - 1) / r.RankDivisor
}
