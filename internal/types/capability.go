package types

import (
	"slices"
	"strings"
)

// Capability is a tag a requester declares and a task may require.
type Capability string

// Known capability tags. Requirements on tasks must use one of these;
// requester sets come from the caller's identity and are taken as given.
const (
	CapabilityCode     Capability = "code"
	CapabilityTesting  Capability = "testing"
	CapabilityDevOps   Capability = "devops"
	CapabilityDocs     Capability = "docs"
	CapabilityDesign   Capability = "design"
	CapabilityDatabase Capability = "database"
	CapabilitySecurity Capability = "security"
	CapabilityFrontend Capability = "frontend"
	CapabilityBackend  Capability = "backend"
)

var knownCapabilities = []Capability{
	CapabilityCode, CapabilityTesting, CapabilityDevOps, CapabilityDocs, CapabilityDesign,
	CapabilityDatabase, CapabilitySecurity, CapabilityFrontend, CapabilityBackend,
}

// KnownCapabilities returns the enumerated tags in declaration order.
func KnownCapabilities() []Capability {
	return slices.Clone(knownCapabilities)
}

// IsKnown reports whether c is one of the enumerated tags.
func (c Capability) IsKnown() bool {
	return slices.Contains(knownCapabilities, c)
}

// CapabilitySet is a sorted, duplicate-free set of capabilities.
type CapabilitySet []Capability

// NewCapabilitySet normalizes tags into a set, dropping blanks and duplicates.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, 0, len(caps))
	for _, c := range caps {
		c = Capability(strings.ToLower(strings.TrimSpace(string(c))))
		if c == "" || slices.Contains(set, c) {
			continue
		}
		set = append(set, c)
	}
	slices.Sort(set)
	return set
}

// ParseCapabilities splits a comma-separated list.
func ParseCapabilities(raw string) CapabilitySet {
	if strings.TrimSpace(raw) == "" {
		return CapabilitySet{}
	}
	var caps []Capability
	for _, part := range strings.Split(raw, ",") {
		caps = append(caps, Capability(part))
	}
	return NewCapabilitySet(caps...)
}

// Contains reports membership.
func (s CapabilitySet) Contains(c Capability) bool {
	return slices.Contains(s, c)
}

// SubsetOf reports whether every member of s is in other.
func (s CapabilitySet) SubsetOf(other CapabilitySet) bool {
	for _, c := range s {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}

func (s CapabilitySet) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
