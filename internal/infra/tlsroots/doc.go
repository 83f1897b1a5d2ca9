// Package tlsroots provides TLS certificate management for PermaMesh.
//
// Pool (roots.go) assembles the trust anchors used to verify peers:
// the system store plus the cluster CA bundle. Watcher (watcher.go)
// hot-reloads the node's serving certificate via fsnotify, so routine
// rotation never requires a restart.
//
// @design DS-0501
package tlsroots
