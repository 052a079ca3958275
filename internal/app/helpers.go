package app

import "strings"

// splitName breaks the portal's "number, name, semester" display form into
// its trimmed parts.
func splitName(full string) []string {
	parts := strings.SplitN(full, ",", 3)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
