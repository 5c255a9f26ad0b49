// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package matching

import (
	"github.com/OnlyFart/ElsParsers/internal/compare"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// Entry pairs a record with its comparison key for the duration of a run.
type Entry struct {
	Record *types.CatalogRecord
	Key    compare.Key
}

// Index maps each title token to the entries whose title contains it. It is
// built once and never mutated, so workers read it without locking.
type Index struct {
	byToken map[string][]*Entry
	size    int
}

// BuildIndex indexes entries in one pass.
func BuildIndex(entries []*Entry) *Index {
	ix := &Index{byToken: make(map[string][]*Entry), size: len(entries)}
	for _, e := range entries {
		for _, tok := range e.Key.TitleTokens {
			ix.byToken[tok] = append(ix.byToken[tok], e)
		}
	}
	return ix
}

// Tokens returns the number of distinct title tokens.
func (ix *Index) Tokens() int { return len(ix.byToken) }

// Size returns the number of indexed entries.
func (ix *Index) Size() int { return ix.size }

// Candidates returns the entries sharing at least one title token with e,
// each once, excluding e itself and entries already linked from e.
func (ix *Index) Candidates(e *Entry) []*Entry {
	seen := make(map[*Entry]struct{})
	var out []*Entry
	for _, tok := range e.Key.TitleTokens {
		for _, c := range ix.byToken[tok] {
			if c == e || (e.Record.ID != "" && c.Record.ID == e.Record.ID) {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			if e.Record.Links != nil && e.Record.Links.Contains(c.Record.ID) {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}
