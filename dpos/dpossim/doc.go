// Package dpossim drives a set of consensus engines through virtual time.
//
// Every payload a producer proposes is delivered to every node in production order,
// as if the nodes shared a perfect network and a single clock.
// The simulation is deterministic apart from the producers' randomness.
package dpossim
