// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package matching

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/OnlyFart/ElsParsers/internal/bibparse"
	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// CustomSource is the source name given to records parsed from citations.
const CustomSource = "Custom"

// Match is one catalog record matched to a citation.
type Match struct {
	Record      *types.CatalogRecord
	Coefficient float64
}

// CitationMatch is the outcome for one citation.
type CitationMatch struct {
	Citation string
	Parsed   bibparse.Result
	Matches  []Match
}

// MatchCitations parses each citation into a synthetic record and compares it
// with the eligible catalog. Nothing is written to the store.
func (e *Engine) MatchCitations(ctx context.Context, citations []string) ([]CitationMatch, error) {
	records, err := e.store.Read(ctx, store.Filter{Eligible: true}, store.Projection{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	e.logger.Info("loaded catalog for citation matching",
		zap.Int("records", len(records)), zap.Int("citations", len(citations)))

	entries := make([]*Entry, len(records))
	for i, r := range records {
		entries[i] = &Entry{Record: r, Key: e.builder.Build(r)}
	}
	ix := BuildIndex(entries)
	parser := bibparse.New(e.norm, bibparse.BuildVocabulary(records, e.norm))

	out := make([]CitationMatch, len(citations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallelism)
	for i, citation := range citations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = e.matchCitation(ix, parser, i, citation)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) matchCitation(ix *Index, parser *bibparse.Parser, n int, citation string) CitationMatch {
	parsed := parser.Parse(citation)
	rec := &types.CatalogRecord{
		SourceName:      CustomSource,
		ExternalID:      strconv.Itoa(n + 1),
		Authors:         parsed.Authors,
		Title:           parsed.Title,
		Publisher:       parsed.Publisher,
		RawBibliography: citation,
	}
	cm := CitationMatch{Citation: citation, Parsed: parsed}
	if !rec.Eligible() {
		return cm
	}

	en := &Entry{Record: rec, Key: e.builder.Build(rec)}
	for _, c := range ix.Candidates(en) {
		if res := e.comparator.Compare(&en.Key, &c.Key); res.Success {
			cm.Matches = append(cm.Matches, Match{Record: c.Record, Coefficient: res.Coefficient})
		}
	}
	sort.SliceStable(cm.Matches, func(a, b int) bool {
		return cm.Matches[a].Coefficient < cm.Matches[b].Coefficient
	})
	return cm
}

// WriteCitationReport writes one block per citation: the citation, the parsed
// fields, then each matched record.
func WriteCitationReport(w io.Writer, matches []CitationMatch) error {
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s\n", m.Citation)
		fmt.Fprintf(&b, "  authors:   %s\n", m.Parsed.Authors)
		fmt.Fprintf(&b, "  title:     %s\n", m.Parsed.Title)
		fmt.Fprintf(&b, "  publisher: %s\n", m.Parsed.Publisher)
		if len(m.Matches) == 0 {
			b.WriteString("  no matches\n")
		}
		for _, match := range m.Matches {
			r := match.Record
			fmt.Fprintf(&b, "  %.3f  %s/%s  %s. %s\n", match.Coefficient, r.SourceName, r.ExternalID, r.Authors, r.Title)
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
