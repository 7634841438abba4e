// Package security guards the file names the service derives from user
// input: capture labels and the directories they are written into.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// MaxLabelLen bounds a gesture label so it stays usable as a file name
// component and a database key.
const MaxLabelLen = 64

var ErrInvalidLabel = errors.New("invalid label")

// ValidateLabel accepts labels made of ASCII letters, digits, underscore
// and dash. Labels become part of capture file names, so separators and
// dots are rejected.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("%w: empty", ErrInvalidLabel)
	}
	if len(label) > MaxLabelLen {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidLabel, label, MaxLabelLen)
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidLabel, label, r)
		}
	}
	return nil
}

// ValidatePathWithinDirectory reports an error if filePath, once cleaned
// and with symlinks resolved, lies outside dir. filePath need not exist;
// its nearest existing parent is resolved instead.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	canonicalPath := resolveExisting(absPath)
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of
// path, so a link in a parent directory cannot smuggle a new file out.
func resolveExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	for check := path; ; {
		parent := filepath.Dir(check)
		if parent == check {
			return path
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, path)
			return filepath.Join(resolved, rest)
		}
		check = parent
	}
}
