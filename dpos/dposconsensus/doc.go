// Package dposconsensus contains the core types of the delegated proof-of-stake round model:
// rounds, the miners inside them, the payload a block carries,
// and the configuration shared by every other dpos package.
//
// A [Round] is mutated in place while miners produce blocks within it,
// and it is superseded (not deleted) once the next round is generated.
// Callers that need a stable view must [*Round.Clone] it.
package dposconsensus
