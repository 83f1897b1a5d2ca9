// Package confloader loads the node configuration through koanf.
//
// Sources merge lowest to highest precedence: struct defaults, the
// YAML configuration file, then PERMAMESH_-prefixed environment
// variables (PERMAMESH_SERVER_HTTP_ADDR maps to server.http.addr).
//
// A separate fsnotify Watcher reports configuration-file changes so
// the server can re-read settings that apply live.
//
// @design DS-0502
package confloader
