// Package mention detects chat messages addressed to the donation bot.
package mention

import "strings"

// Detector matches a configured bot handle against chat bodies.
type Detector struct {
	handle string
}

// New returns a Detector for the exact, case-sensitive handle.
func New(handle string) *Detector {
	return &Detector{handle: handle}
}

// Handle returns the configured handle.
func (d *Detector) Handle() string {
	return d.handle
}

// Detect reports whether body contains the handle and returns the trimmed
// body used for extraction. An empty handle never matches.
func (d *Detector) Detect(body string) (bool, string) {
	if d.handle == "" {
		return false, ""
	}
	if !strings.Contains(body, d.handle) {
		return false, ""
	}
	return true, strings.TrimSpace(body)
}
