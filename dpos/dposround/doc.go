// Package dposround computes round transitions.
//
// Every function here is deterministic over its inputs,
// so that every honest node derives a byte-identical next round.
// Miner order within a term follows the signature-derived supposed order;
// the first round of a term follows election rank,
// with ties broken by the complete public key bytes.
package dposround
