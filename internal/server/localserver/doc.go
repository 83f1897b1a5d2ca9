// Package localserver serves the HTTP API over a Unix domain socket.
//
// The socket carries the same handler as the TCP listener but is only
// reachable by processes on the node itself, with access controlled by
// file system permissions. Operators use it for admin and health
// queries without exposing the admin surface to the network:
//
//	curl --unix-socket /run/permamesh/admin.sock http://localhost/admin/v1/status/summary
//
// @design DS-0301
package localserver
