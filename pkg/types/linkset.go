// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"sort"
	"sync"
)

// LinkSet is an append-only set of similarity links grouped by target source.
// Every method takes the set's own lock, so two workers linking to the same
// record from different directions never lose an update. The zero value is
// not usable; construct with NewLinkSet.
type LinkSet struct {
	mu      sync.Mutex
	bySrc   map[string]map[string]SimilarityLink
	targets map[string]struct{}
}

// NewLinkSet returns a LinkSet seeded with existing links. Duplicate target
// ids in the seed collapse to the first occurrence.
func NewLinkSet(seed map[string][]SimilarityLink) *LinkSet {
	s := &LinkSet{
		bySrc:   make(map[string]map[string]SimilarityLink),
		targets: make(map[string]struct{}),
	}
	for source, links := range seed {
		for _, l := range links {
			s.addLocked(source, l)
		}
	}
	return s
}

// Add inserts link under source unless a link to the same target already
// exists. It returns true when the link was new.
func (s *LinkSet) Add(source string, link SimilarityLink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(source, link)
}

func (s *LinkSet) addLocked(source string, link SimilarityLink) bool {
	if _, ok := s.targets[link.TargetID]; ok {
		return false
	}
	links, ok := s.bySrc[source]
	if !ok {
		links = make(map[string]SimilarityLink)
		s.bySrc[source] = links
	}
	links[link.TargetID] = link
	s.targets[link.TargetID] = struct{}{}
	return true
}

// Contains reports whether a link to targetID exists under any source.
func (s *LinkSet) Contains(targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.targets[targetID]
	return ok
}

// Len returns the number of links.
func (s *LinkSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// Snapshot returns a deep copy of the set, with each source's links sorted by
// target id so repeated snapshots of the same set are identical.
func (s *LinkSet) Snapshot() map[string][]SimilarityLink {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]SimilarityLink, len(s.bySrc))
	for source, links := range s.bySrc {
		list := make([]SimilarityLink, 0, len(links))
		for _, l := range links {
			list = append(list, l)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].TargetID < list[j].TargetID })
		out[source] = list
	}
	return out
}
