// Package misc holds small HTTP helpers that do not fit a more specific
// package.
package misc

import (
	"net/http"
	"strings"
)

// EnsureHeader sets key on target, preferring the value from source, then an
// already-present target value, then defaultValue. Empty values never
// overwrite anything.
func EnsureHeader(target http.Header, source http.Header, key, defaultValue string) {
	if target == nil {
		return
	}
	if source != nil {
		if val := strings.TrimSpace(source.Get(key)); val != "" {
			target.Set(key, val)
			return
		}
	}
	if strings.TrimSpace(target.Get(key)) != "" {
		return
	}
	if val := strings.TrimSpace(defaultValue); val != "" {
		target.Set(key, val)
	}
}
