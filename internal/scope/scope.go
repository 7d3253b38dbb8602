// Package scope models a resolved storage root. Scope resolution policy
// (which root a request targets) lives with the caller; the engine only
// consumes resolved roots and sibling roots for duplicate detection.
package scope

import "strings"

// Well-known scope names. The engine does not restrict names to this set.
const (
	User       = "user"
	Project    = "project"
	Local      = "local"
	Enterprise = "enterprise"
)

// Scope pairs a storage root directory with the name it was resolved from.
type Scope struct {
	Name string
	Root string
}

// Tag returns the scope-derived tag every record in this scope carries.
func (s Scope) Tag() string {
	return "scope:" + s.Name
}

// IsScopeTag reports whether tag is a scope-derived tag.
func IsScopeTag(tag string) bool {
	return strings.HasPrefix(tag, "scope:")
}
