// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package bibparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlyFart/ElsParsers/internal/normalize"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

func catalogFixture() []*types.CatalogRecord {
	return []*types.CatalogRecord{
		{Authors: "Петров А.Б., Иванов В.В.", Publisher: "Просвещение"},
		{Authors: "под ред. Сидорова", Publisher: "Издательский дом \"Питер\""},
		{Authors: "Один Два Три Четыре Пять Шесть", Publisher: ""},
	}
}

func TestBuildVocabulary(t *testing.T) {
	v := BuildVocabulary(catalogFixture(), normalize.Default())

	assert.Contains(t, v.Authors, "Петров")
	assert.Contains(t, v.Authors, "Иванов")
	assert.Contains(t, v.Authors, "Сидорова")
	assert.NotContains(t, v.Authors, "ред")
	assert.NotContains(t, v.Authors, "Один", "entries with more than five names are noise")

	assert.Contains(t, v.Publishers, "просвещение")
	assert.Contains(t, v.Publishers, "издательский дом питер")
	authors, publishers := v.Len()
	assert.Equal(t, 3, authors)
	assert.Equal(t, 2, publishers)
}

func TestParse_KnownVocabulary(t *testing.T) {
	n := normalize.Default()
	p := New(n, BuildVocabulary(catalogFixture(), n))

	got := p.Parse("Петров А.Б. Методика обучения. М.: Просвещение, 2019. 320 с.")
	assert.Equal(t, Result{
		Authors:   "Петров",
		Title:     "Методика обучения",
		Publisher: "просвещение",
	}, got)
}

func TestParse_LongestPublisherFirst(t *testing.T) {
	n := normalize.Default()
	vocab := &Vocabulary{
		Authors: map[string]struct{}{"Иванов": {}},
		Publishers: map[string]struct{}{
			"питер": {},
			"издательский дом питер": {},
		},
	}
	p := New(n, vocab)

	got := p.Parse("Иванов В.В. Алгоритмы. СПб.: Издательский дом &laquo;Питер&raquo;, 2020")
	assert.Equal(t, "издательский дом питер", got.Publisher)
	assert.Equal(t, "Иванов", got.Authors)
	assert.Equal(t, "Алгоритмы СПб", got.Title)
}

func TestParse_PatternFallback(t *testing.T) {
	p := New(normalize.Default(), nil)

	got := p.Parse("Искусство программирования / Д. Кнут")
	assert.Equal(t, "Кнут", got.Authors)
	assert.Equal(t, "Искусство программирования", got.Title)
	assert.Empty(t, got.Publisher)
}

func TestParse_PatternFallbackRejectsWeakSurnames(t *testing.T) {
	p := New(normalize.Default(), nil)

	assert.Empty(t, p.Parse("история россии а. б.").Authors, "lowercase surname")
	assert.Empty(t, p.Parse("Ли А. Б. ").Authors, "surname too short")
	assert.Empty(t, p.Parse("Петров а. б. ").Authors, "lowercase initials")
	assert.Equal(t, "Петров", p.Parse("Петров А. Б. ").Authors)
}

func TestParse_BibStopwords(t *testing.T) {
	cfg := types.DefaultNormalizerConfig()
	cfg.BibStopwords = []string{"учеб", "пособие"}
	p := New(normalize.MustNew(cfg), &Vocabulary{Authors: map[string]struct{}{"Петров": {}}})

	got := p.Parse("Петров А.Б. Физика: учеб. пособие")
	assert.Equal(t, "Физика", got.Title)
}

func TestParse_NeverFails(t *testing.T) {
	p := New(normalize.Default(), nil)
	for _, in := range []string{"", "   ", "2019. 320 с.", "&amp;&lt;&gt;", "...."} {
		assert.NotPanics(t, func() { p.Parse(in) }, "input %q", in)
	}
	assert.Equal(t, Result{}, p.Parse(""))
}

func TestFill(t *testing.T) {
	n := normalize.Default()
	p := New(n, BuildVocabulary(catalogFixture(), n))

	r := &types.CatalogRecord{RawBibliography: "Петров А.Б. Методика обучения. М.: Просвещение, 2019."}
	require.True(t, p.Fill(r))
	assert.Equal(t, "Петров", r.Authors)
	assert.Equal(t, "Методика обучения", r.Title)
	assert.Equal(t, "просвещение", r.Publisher)

	kept := &types.CatalogRecord{Title: "Своё название", RawBibliography: "Петров А.Б. Методика обучения."}
	require.True(t, p.Fill(kept))
	assert.Equal(t, "Своё название", kept.Title, "existing fields are not overwritten")

	eligible := &types.CatalogRecord{Title: "Физика", Authors: "Иванов", RawBibliography: "Петров А.Б. Химия"}
	assert.False(t, p.Fill(eligible))
	assert.Equal(t, "Иванов", eligible.Authors)

	assert.False(t, p.Fill(&types.CatalogRecord{}))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Петров А.Б. Физика с.", Clean("Петров А.Б., «Физика» — 2019, 320 с."))
	assert.Equal(t, "", Clean(" 123 "))
}
