// Package config defines the server configuration structure.
package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	// Shallow copy, then deep-copy the slices that get masked
	sanitized := *cfg

	if sanitized.Security.ExportKey != "" {
		sanitized.Security.ExportKey = maskSecret(sanitized.Security.ExportKey)
	}
	if sanitized.Consensus.PrivateKey != "" {
		sanitized.Consensus.PrivateKey = maskSecret(sanitized.Consensus.PrivateKey)
	}

	if len(cfg.Token.Keys) > 0 {
		keys := make([]TokenKeyConfig, len(cfg.Token.Keys))
		copy(keys, cfg.Token.Keys)
		for i := range keys {
			if keys[i].Secret != "" {
				keys[i].Secret = maskSecret(keys[i].Secret)
			}
		}
		sanitized.Token.Keys = keys
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
