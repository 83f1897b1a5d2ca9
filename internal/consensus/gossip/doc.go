// Package gossip provides node liveness tracking for the consensus
// cluster using the memberlist gossip protocol.
//
// The consensus membership itself is static configuration; gossip does
// not admit or remove voters. It exists to surface reachability: when
// more than f registered nodes are unreachable the cluster can no
// longer commit, and operators need to know before clients do.
//
// @design DS-0402
package gossip
