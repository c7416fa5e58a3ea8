package reststorage

import (
	"path"
	"strings"
)

// StagingSegment is the reserved top level segment under which backends keep
// uploads that have not been committed yet. It never appears in listings and
// cannot be addressed by callers.
const StagingSegment = ".tmp"

// RootPath is the canonical form of the tree root.
const RootPath = "/"

// CanonicalPath cleans p into the form "/a/b/c" (or "/" for the root).
// Segments may not be "." or "..", contain ':' or NUL, and the path may not
// point into the staging namespace.
func CanonicalPath(p string) (string, error) {
	for _, seg := range strings.Split(p, "/") {
		switch {
		case seg == "..":
			return "", InvalidPathError{Path: p, Reason: "parent segment not allowed"}
		case strings.ContainsAny(seg, ":\x00"):
			return "", InvalidPathError{Path: p, Reason: "segment contains a reserved character"}
		}
	}

	cleaned := path.Clean("/" + p)
	if cleaned == RootPath {
		return RootPath, nil
	}

	if first, _, _ := strings.Cut(cleaned[1:], "/"); first == StagingSegment {
		return "", InvalidPathError{Path: p, Reason: "reserved namespace"}
	}

	return cleaned, nil
}

// Segments splits a canonical path into its segments. The root has none.
func Segments(canonical string) []string {
	trimmed := strings.Trim(canonical, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// BaseName returns the last segment of a canonical path, or "" for the root.
func BaseName(canonical string) string {
	if canonical == RootPath || canonical == "" {
		return ""
	}
	return path.Base(canonical)
}

// IsRoot reports whether canonical addresses the tree root.
func IsRoot(canonical string) bool {
	return canonical == RootPath || canonical == ""
}
