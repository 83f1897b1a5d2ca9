// Package pbft implements the three-phase Byzantine agreement protocol
// that orders record storage across the cluster.
//
// A cluster of n nodes tolerates f = (n-1)/3 Byzantine members. The
// primary for a view is chosen deterministically from the sorted node
// ids, so every honest node derives the same primary without
// communication. A request moves through PRE_PREPARE, PREPARE and
// COMMIT; each phase gate requires 2f+1 matching votes before the slot
// advances, and a committed slot executes exactly once regardless of
// how many duplicate votes arrive afterwards.
//
// Backups independently re-verify the capability token embedded in a
// PRE_PREPARE before voting: a compromised primary cannot launder an
// invalid token through consensus.
//
// @design DS-0401
package pbft
