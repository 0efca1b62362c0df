// Package dposslot decides who may produce a block at a given time.
//
// The [Arbiter] checks a sender's claimed time against its slot in a round:
// the gap before the round start belongs only to the extra block producer
// of the previous round, ordinary slots belong to their miner,
// and after the extra slot any miner may terminate the round in its abnormal slot.
//
// [ContinuousBlocks] bounds how many blocks one miner produces within one slot,
// and [MaximumBlocksCount] shrinks that bound while irreversibility lags.
package dposslot
