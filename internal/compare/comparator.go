// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package compare

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// minIntersectionTokens is the smallest title-token set the intersection
// fallback will consider. Shorter titles only match on the whole string.
const minIntersectionTokens = 5

// Result is the outcome of comparing two keys.
type Result struct {
	Success bool

	// Coefficient is the mean of the author and title distances on success
	// (0 means identical), and 0 otherwise.
	Coefficient float64
}

// diff is the outcome of one author or title check.
type diff struct {
	value float64
	ok    bool
}

// DistanceFunc returns the edit distance between two strings, in runes.
type DistanceFunc func(a, b string) int

// Comparator decides whether two keys describe the same book. It never fails:
// empty or malformed keys degrade to no match.
type Comparator struct {
	levenshteinBorder  float64
	intersectionBorder float64
	distance           DistanceFunc
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithDistance replaces the edit-distance function.
func WithDistance(fn DistanceFunc) Option {
	return func(c *Comparator) { c.distance = fn }
}

// NewComparator returns a Comparator using the thresholds in cfg and
// Levenshtein distance unless overridden.
func NewComparator(cfg types.ComparerConfig, opts ...Option) *Comparator {
	c := &Comparator{
		levenshteinBorder:  cfg.LevenshteinBorder,
		intersectionBorder: cfg.IntersectionBorder,
		distance:           matchr.Levenshtein,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare matches authors first and only examines titles when some author
// pair is close enough. The result does not depend on argument order.
func (c *Comparator) Compare(k1, k2 *Key) Result {
	if keyOrder(k1, k2) > 0 {
		k1, k2 = k2, k1
	}
	author := c.closestPair(k1.AuthorIdentities, k2.AuthorIdentities)
	if !author.ok {
		return Result{}
	}

	title := c.titleDiff(k1, k2)
	if !title.ok {
		return Result{}
	}

	return Result{
		Success:     true,
		Coefficient: (author.value + title.value) / 2,
	}
}

// keyOrder is a total order on the fields Compare reads. closestPair takes
// the first acceptable pair, so both keys must be scanned in the same order.
func keyOrder(a, b *Key) int {
	return cmp.Or(
		strings.Compare(a.NormalizedTitle, b.NormalizedTitle),
		slices.Compare(a.AuthorIdentities, b.AuthorIdentities),
		slices.Compare(a.TitleTokens, b.TitleTokens),
	)
}

// closestPair returns the first pair of identities within the border. It
// does not look for the best pair.
func (c *Comparator) closestPair(as, bs []string) diff {
	if len(as) == 0 || len(bs) == 0 {
		return diff{}
	}
	for _, a := range as {
		for _, b := range bs {
			if d := c.stringDiff(a, b); d.ok {
				return d
			}
		}
	}
	return diff{}
}

func (c *Comparator) titleDiff(k1, k2 *Key) diff {
	if d := c.stringDiff(k1.NormalizedTitle, k2.NormalizedTitle); d.ok {
		return d
	}
	return c.intersectionDiff(k1.TitleTokens, k2.TitleTokens)
}

// stringDiff is the normalized edit distance of a and b. Pairs whose lengths
// alone differ by more than the border are rejected before the distance is
// computed.
func (c *Comparator) stringDiff(a, b string) diff {
	if a == "" || b == "" {
		return diff{}
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := float64(max(la, lb))

	d := float64(abs(la-lb)) / longest
	if d > c.levenshteinBorder {
		return diff{value: d}
	}

	d = float64(c.distance(a, b)) / longest
	return diff{value: d, ok: d <= c.levenshteinBorder}
}

// intersectionDiff is the share of tokens of the smaller set missing from the
// larger one. Both inputs must be sorted and free of duplicates.
func (c *Comparator) intersectionDiff(as, bs []string) diff {
	if len(as) < minIntersectionTokens || len(bs) < minIntersectionTokens {
		return diff{}
	}

	shared := 0
	for i, j := 0, 0; i < len(as) && j < len(bs); {
		switch {
		case as[i] == bs[j]:
			shared++
			i++
			j++
		case as[i] < bs[j]:
			i++
		default:
			j++
		}
	}

	d := 1 - float64(shared)/float64(min(len(as), len(bs)))
	return diff{value: d, ok: d <= c.intersectionBorder}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
