// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mongostore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

func TestToDoc_RoundTrip(t *testing.T) {
	target := primitive.NewObjectID()
	rec := &types.CatalogRecord{
		ID:              primitive.NewObjectID().Hex(),
		SourceName:      "lan",
		ExternalID:      "42",
		Authors:         "Петров А.Б.",
		Title:           "Физика",
		Publisher:       "Просвещение",
		Year:            "2019",
		Pages:           320,
		RawBibliography: "Петров А.Б. Физика",
		Processed:       true,
		SimilarityLinks: map[string][]types.SimilarityLink{
			"znanium": {{TargetID: target.Hex(), TargetExternalID: "7", Coefficient: 0.125}},
		},
	}

	doc, err := toDoc(rec)
	require.NoError(t, err)
	assert.Equal(t, "Физика", doc.Name)
	assert.Equal(t, "lan", doc.ElsName)
	assert.True(t, doc.Compared)
	assert.Equal(t, target, doc.SimilarBooks["znanium"][0].BookID)

	if diff := cmp.Diff(rec, doc.record()); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestToDoc_InvalidIDs(t *testing.T) {
	_, err := toDoc(&types.CatalogRecord{ID: "not-hex"})
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = toDoc(&types.CatalogRecord{SimilarityLinks: map[string][]types.SimilarityLink{
		"lan": {{TargetID: "uuid-like-id"}},
	}})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestBuildFilter(t *testing.T) {
	assert.Empty(t, buildFilter(store.Filter{}))

	q := buildFilter(store.Filter{Eligible: true, OnlyUnprocessed: true, SourceName: "lan"})
	assert.Contains(t, q, "Name")
	assert.Contains(t, q, "Authors")
	assert.Equal(t, bson.M{"$ne": true}, q["Compared"])
	assert.Equal(t, "lan", q["ElsName"])

	q = buildFilter(store.Filter{Eligible: true, OrBibliography: true})
	assert.NotContains(t, q, "Name")
	require.Contains(t, q, "$or")
	assert.Len(t, q["$or"], 2)
}

func TestProjection(t *testing.T) {
	assert.Equal(t, bson.M{"Bib": 0, "SimilarBooks": 0}, projection(store.Filter{}, store.Projection{}))
	assert.Equal(t, bson.M{"SimilarBooks": 0}, projection(store.Filter{OrBibliography: true}, store.Projection{}))
	assert.Empty(t, projection(store.Filter{}, store.Projection{WithBibliography: true, WithLinks: true}))
}

func TestSetFor(t *testing.T) {
	rec := &types.CatalogRecord{ID: primitive.NewObjectID().Hex(), Authors: "Иванов", Title: "Химия"}

	set, err := setFor(store.RecordUpdate(rec, nil, true))
	require.NoError(t, err)
	assert.Equal(t, true, set["Compared"])
	assert.Equal(t, "Химия", set["Name"])
	assert.Contains(t, set, "SimilarBooks")

	set, err = setFor(store.LinksUpdate(rec.ID, nil))
	require.NoError(t, err)
	assert.NotContains(t, set, "Compared")
	assert.NotContains(t, set, "Name")
}
