// Package hostname resolves the hostname tag attached to a memory at
// store time (spec §4.C10), applying a fixed precedence order.
package hostname

import "os"

// Resolve returns the hostname to record, applying spec §4.C10's
// precedence: an explicit value wins, then a protocol-supplied hint,
// then the process's own hostname. Returns "" if none is available.
func Resolve(explicit, protocolHint string) string {
	if explicit != "" {
		return explicit
	}
	if protocolHint != "" {
		return protocolHint
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return ""
}
