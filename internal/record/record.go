// Package record defines the memory record type and its file codec.
package record

import (
	"path"
	"time"
)

// Record types. The enumeration is closed: anything else fails validation.
const (
	TypeDecision   = "decision"
	TypeLearning   = "learning"
	TypeGotcha     = "gotcha"
	TypeArtifact   = "artifact"
	TypeReference  = "reference"
	TypeHub        = "hub"
	TypeBreadcrumb = "breadcrumb"
	TypeSession    = "session"
)

// Subtree names under the storage root. Ephemeral types live under
// SubtreeTemporary, everything else under SubtreePermanent.
const (
	SubtreePermanent = "permanent"
	SubtreeTemporary = "temporary"
)

// Severity values accepted in the severity header field.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var types = []string{
	TypeDecision, TypeLearning, TypeGotcha, TypeArtifact,
	TypeReference, TypeHub, TypeBreadcrumb, TypeSession,
}

var ephemeral = map[string]bool{
	TypeBreadcrumb: true,
	TypeSession:    true,
}

var severities = []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Types returns the closed type enumeration in display order.
func Types() []string {
	out := make([]string, len(types))
	copy(out, types)
	return out
}

// ValidType reports whether t is a member of the type enumeration.
func ValidType(t string) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

// ValidSeverity reports whether s is empty or a known severity.
func ValidSeverity(s string) bool {
	if s == "" {
		return true
	}
	for _, v := range severities {
		if v == s {
			return true
		}
	}
	return false
}

// Ephemeral reports whether records of type t live in the temporary subtree.
func Ephemeral(t string) bool {
	return ephemeral[t]
}

// Subtree returns the storage subtree for records of type t.
func Subtree(t string) string {
	if Ephemeral(t) {
		return SubtreeTemporary
	}
	return SubtreePermanent
}

// PathFor returns the root-relative storage path for a record:
// <subtree>/<type>/<id>.md with forward slashes.
func PathFor(typ, id string) string {
	return path.Join(Subtree(typ), typ, id+".md")
}

// Record is a single persisted memory: structured header plus free-text body.
type Record struct {
	ID       string
	Type     string
	Title    string
	Created  time.Time
	Updated  time.Time
	Scope    string
	Severity string
	Source   string
	Tags     []string
	Links    []string
	Meta     map[string]any
	Content  string
}

// HasTag reports whether the record carries the exact tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends tag if absent and reports whether the set changed.
func (r *Record) AddTag(tag string) bool {
	if r.HasTag(tag) {
		return false
	}
	r.Tags = append(r.Tags, tag)
	return true
}

// RemoveTag drops tag if present and reports whether the set changed.
func (r *Record) RemoveTag(tag string) bool {
	for i, t := range r.Tags {
		if t == tag {
			r.Tags = append(r.Tags[:i], r.Tags[i+1:]...)
			return true
		}
	}
	return false
}

// StoragePath returns the root-relative path this record serialises to.
func (r *Record) StoragePath() string {
	return PathFor(r.Type, r.ID)
}
