package dposoracle

import "fmt"

// SeedUnavailableError is returned when the seed for a height has not been revealed yet.
type SeedUnavailableError struct {
	Height uint64
}

func (e SeedUnavailableError) Error() string {
	return fmt.Sprintf("random seed for height %d is not available", e.Height)
}

// CommitmentExistsError is returned when committing to a height twice.
type CommitmentExistsError struct {
	Height uint64
}

func (e CommitmentExistsError) Error() string {
	return fmt.Sprintf("already committed to random seed at height %d", e.Height)
}

// RevealMismatchError is returned when a revealed seed does not match its commitment,
// or when there is no commitment to match.
type RevealMismatchError struct {
	Height uint64
	Reason string
}

func (e RevealMismatchError) Error() string {
	return fmt.Sprintf("cannot reveal random seed for height %d: %s", e.Height, e.Reason)
}

// NoElectionError is returned when a static election has no result for a term.
type NoElectionError struct {
	Term uint64
}

func (e NoElectionError) Error() string {
	return fmt.Sprintf("no election result for term %d", e.Term)
}
