package entities

import "sort"

// ExclusionSet holds user ids that must not appear in search results
type ExclusionSet map[string]struct{}

// NewExclusionSet builds a set from ids
func NewExclusionSet(ids ...string) ExclusionSet {
	set := make(ExclusionSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

// Add inserts id into the set; empty ids are ignored
func (s ExclusionSet) Add(id string) {
	if id == "" {
		return
	}
	s[id] = struct{}{}
}

// Contains reports whether id is excluded
func (s ExclusionSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the excluded ids in sorted order
func (s ExclusionSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PendingDelta is the optimistic local state applied on top of the last
// authoritative view, e.g. a request sent since the view was loaded.
type PendingDelta struct {
	OutgoingTargets map[string]struct{}
}

// NewPendingDelta returns an empty delta
func NewPendingDelta() *PendingDelta {
	return &PendingDelta{OutgoingTargets: map[string]struct{}{}}
}

// AddOutgoing records an optimistically sent request
func (d *PendingDelta) AddOutgoing(target string) {
	d.OutgoingTargets[target] = struct{}{}
}

// Remove drops a target, e.g. after the request was cancelled
func (d *PendingDelta) Remove(target string) {
	delete(d.OutgoingTargets, target)
}

// Len returns the number of pending entries
func (d *PendingDelta) Len() int {
	return len(d.OutgoingTargets)
}
