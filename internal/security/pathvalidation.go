// Package security validates the identifiers that end up in recording
// paths. Execution block ids, subsystem ids and file names come from scan
// configurations and device responses, so they are checked before being
// joined onto the mount.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathComponent checks that name is usable as a single path
// component: non-empty, no separators, and not a dot entry.
func ValidatePathComponent(name string) error {
	if name == "" {
		return fmt.Errorf("empty path component")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("path component %q is a directory reference", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("path component %q contains a separator", name)
	}
	return nil
}

// ValidateWithinDirectory checks that path stays under dir once cleaned.
// The check is lexical; it works on paths that do not exist yet.
func ValidateWithinDirectory(path, dir string) error {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path %s is outside %s: %w", path, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s escapes %s", path, dir)
	}
	return nil
}

// SanitizeFilename makes a safe file name from an arbitrary identifier.
// Characters outside ASCII letters, digits, dot, underscore and dash become
// underscores, runs of underscores collapse, and the result is capped at a
// sensible length.
func SanitizeFilename(s string) string {
	const maxLen = 128

	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
