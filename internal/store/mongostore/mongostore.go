// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package mongostore keeps the catalog in a MongoDB collection. Documents use
// the field names the crawlers write (ElsName, ExternalId, Name, Bib,
// SimilarBooks, Compared), so the comparer can run against an existing
// catalog without migration.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// ErrInvalidID is reported for ids that are not ObjectID hex strings.
var ErrInvalidID = errors.New("invalid object id")

// similarDoc is one entry of a SimilarBooks set.
type similarDoc struct {
	BookID      primitive.ObjectID `bson:"BookId"`
	ExternalID  string             `bson:"ExternalId"`
	Coefficient float64            `bson:"Coefficient"`
}

// bookDoc is the stored shape of a CatalogRecord.
type bookDoc struct {
	ID           primitive.ObjectID      `bson:"_id,omitempty"`
	ExternalID   string                  `bson:"ExternalId"`
	ElsName      string                  `bson:"ElsName"`
	Authors      string                  `bson:"Authors"`
	ISBN         string                  `bson:"ISBN"`
	ISSN         string                  `bson:"ISSN"`
	Publisher    string                  `bson:"Publisher"`
	Name         string                  `bson:"Name"`
	Year         string                  `bson:"Year"`
	Bib          string                  `bson:"Bib,omitempty"`
	Pages        int                     `bson:"Pages"`
	SimilarBooks map[string][]similarDoc `bson:"SimilarBooks,omitempty"`
	Compared     bool                    `bson:"Compared"`
}

// Store implements store.Store over a MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	name   string
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// NewStore connects to cfg.DSN and selects cfg.Database/cfg.Collection.
func NewStore(ctx context.Context, cfg types.StoreConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		name:   cfg.Database + "/" + cfg.Collection,
		logger: logger.Named("mongostore"),
	}, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// EnsureIndex creates the unique (ElsName, ExternalId) index when absent.
func (s *Store) EnsureIndex(ctx context.Context) (bool, error) {
	cur, err := s.coll.Indexes().List(ctx)
	if err != nil {
		return false, fmt.Errorf("listing indexes: %w", err)
	}
	var specs []bson.M
	if err := cur.All(ctx, &specs); err != nil {
		return false, fmt.Errorf("reading indexes: %w", err)
	}
	for _, spec := range specs {
		if spec["name"] == store.IndexName {
			return false, nil
		}
	}

	_, err = s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ElsName", Value: 1}, {Key: "ExternalId", Value: 1}},
		Options: options.Index().SetName(store.IndexName).SetUnique(true),
	})
	if err != nil {
		return false, fmt.Errorf("creating index %s: %w", store.IndexName, err)
	}
	s.logger.Info("created index", zap.String("index", store.IndexName), zap.String("collection", s.name))
	return true, nil
}

// Read loads the records that pass filter.
func (s *Store) Read(ctx context.Context, filter store.Filter, proj store.Projection) ([]*types.CatalogRecord, error) {
	s.logger.Info("loading records", zap.String("collection", s.name))

	opts := options.Find()
	if p := projection(filter, proj); len(p) > 0 {
		opts.SetProjection(p)
	}
	cur, err := s.coll.Find(ctx, buildFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.name, err)
	}
	defer cur.Close(ctx)

	var out []*types.CatalogRecord
	for cur.Next(ctx) {
		var doc bookDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		rec := doc.record()
		if !filter.Match(rec) {
			continue
		}
		if !proj.WithBibliography {
			rec.RawBibliography = ""
		}
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", s.name, err)
	}

	s.logger.Info("loaded records", zap.String("collection", s.name), zap.Int("count", len(out)))
	return out, nil
}

// UpdateMany sends updates as one unordered bulk write and maps write
// errors back to the updates that caused them.
func (s *Store) UpdateMany(ctx context.Context, updates []store.Update) ([]store.UpdateResult, error) {
	results := make([]store.UpdateResult, len(updates))
	models := make([]mongo.WriteModel, 0, len(updates))
	modelIdx := make([]int, 0, len(updates))

	for i, u := range updates {
		results[i].ID = u.ID
		oid, err := primitive.ObjectIDFromHex(u.ID)
		if err != nil {
			results[i].Err = fmt.Errorf("updating %s: %w", u.ID, ErrInvalidID)
			continue
		}
		set, err := setFor(u)
		if err != nil {
			results[i].Err = fmt.Errorf("updating %s: %w", u.ID, err)
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": oid}).
			SetUpdate(bson.M{"$set": set}))
		modelIdx = append(modelIdx, i)
	}
	if len(models) == 0 {
		return results, nil
	}

	_, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
			return nil, fmt.Errorf("bulk write to %s: %w", s.name, err)
		}
		for _, we := range bwe.WriteErrors {
			if we.Index < 0 || we.Index >= len(modelIdx) {
				continue
			}
			i := modelIdx[we.Index]
			results[i].Err = fmt.Errorf("updating %s: %w", updates[i].ID, we)
		}
	}
	return results, nil
}

// Insert upserts records keyed by (ElsName, ExternalId). Existing documents
// keep their _id, SimilarBooks and Compared.
func (s *Store) Insert(ctx context.Context, records []*types.CatalogRecord) (store.InsertSummary, error) {
	var summary store.InsertSummary
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := store.ValidateForInsert(rec); err != nil {
			s.logger.Warn("skipping record", zap.Error(err))
			summary.Failed++
			continue
		}

		doc, err := toDoc(rec)
		if err != nil {
			s.logger.Warn("skipping record", zap.Error(err))
			summary.Failed++
			continue
		}
		key := bson.M{"ElsName": rec.SourceName, "ExternalId": rec.ExternalID}
		onInsert := bson.M{"Compared": doc.Compared}
		if len(doc.SimilarBooks) > 0 {
			onInsert["SimilarBooks"] = doc.SimilarBooks
		}
		if !doc.ID.IsZero() {
			onInsert["_id"] = doc.ID
		}
		update := bson.M{
			"$set": bson.M{
				"Authors":   doc.Authors,
				"ISBN":      doc.ISBN,
				"ISSN":      doc.ISSN,
				"Publisher": doc.Publisher,
				"Name":      doc.Name,
				"Year":      doc.Year,
				"Bib":       doc.Bib,
				"Pages":     doc.Pages,
			},
			"$setOnInsert": onInsert,
		}

		res, err := s.coll.UpdateOne(ctx, key, update, options.Update().SetUpsert(true))
		if err != nil {
			s.logger.Warn("insert failed",
				zap.String("source", rec.SourceName),
				zap.String("external_id", rec.ExternalID),
				zap.Error(err))
			summary.Failed++
			continue
		}
		if oid, ok := res.UpsertedID.(primitive.ObjectID); ok {
			rec.ID = oid.Hex()
			summary.Inserted++
			continue
		}

		var existing bookDoc
		err = s.coll.FindOne(ctx, key, options.FindOne().SetProjection(bson.M{"_id": 1})).Decode(&existing)
		if err != nil {
			return summary, fmt.Errorf("reading id of %s/%s: %w", rec.SourceName, rec.ExternalID, err)
		}
		rec.ID = existing.ID.Hex()
		summary.Updated++
	}
	return summary, nil
}

// buildFilter translates f into a query. Whitespace-only fields pass the
// query and are dropped by Filter.Match.
func buildFilter(f store.Filter) bson.M {
	q := bson.M{}
	if f.Eligible {
		eligible := bson.M{
			"Name":    bson.M{"$nin": bson.A{nil, ""}},
			"Authors": bson.M{"$nin": bson.A{nil, ""}},
		}
		if f.OrBibliography {
			q["$or"] = bson.A{eligible, bson.M{"Bib": bson.M{"$nin": bson.A{nil, ""}}}}
		} else {
			for k, v := range eligible {
				q[k] = v
			}
		}
	}
	if f.OnlyUnprocessed {
		q["Compared"] = bson.M{"$ne": true}
	}
	if f.SourceName != "" {
		q["ElsName"] = f.SourceName
	}
	return q
}

// projection excludes the large optional fields that were not asked for.
func projection(f store.Filter, p store.Projection) bson.M {
	out := bson.M{}
	if !p.WithBibliography && !f.OrBibliography {
		out["Bib"] = 0
	}
	if !p.WithLinks {
		out["SimilarBooks"] = 0
	}
	return out
}

// setFor returns the $set document for u.
func setFor(u store.Update) (bson.M, error) {
	set := bson.M{}
	if u.Fields.Has(store.FieldLinks) {
		links, err := toSimilar(u.Links)
		if err != nil {
			return nil, err
		}
		set["SimilarBooks"] = links
	}
	if u.Fields.Has(store.FieldProcessed) {
		set["Compared"] = u.Processed
	}
	if u.Fields.Has(store.FieldDescriptive) {
		set["Authors"] = u.Authors
		set["Name"] = u.Title
		set["Publisher"] = u.Publisher
	}
	return set, nil
}

func toDoc(r *types.CatalogRecord) (bookDoc, error) {
	doc := bookDoc{
		ExternalID: r.ExternalID,
		ElsName:    r.SourceName,
		Authors:    r.Authors,
		ISBN:       r.ISBN,
		ISSN:       r.ISSN,
		Publisher:  r.Publisher,
		Name:       r.Title,
		Year:       r.Year,
		Bib:        r.RawBibliography,
		Pages:      r.Pages,
		Compared:   r.Processed,
	}
	if r.ID != "" {
		oid, err := primitive.ObjectIDFromHex(r.ID)
		if err != nil {
			return bookDoc{}, fmt.Errorf("record %s: %w", r.ID, ErrInvalidID)
		}
		doc.ID = oid
	}
	links, err := toSimilar(r.SimilarityLinks)
	if err != nil {
		return bookDoc{}, err
	}
	doc.SimilarBooks = links
	return doc, nil
}

func toSimilar(links map[string][]types.SimilarityLink) (map[string][]similarDoc, error) {
	out := make(map[string][]similarDoc, len(links))
	for source, list := range links {
		docs := make([]similarDoc, 0, len(list))
		for _, l := range list {
			oid, err := primitive.ObjectIDFromHex(l.TargetID)
			if err != nil {
				return nil, fmt.Errorf("link target %q: %w", l.TargetID, ErrInvalidID)
			}
			docs = append(docs, similarDoc{BookID: oid, ExternalID: l.TargetExternalID, Coefficient: l.Coefficient})
		}
		out[source] = docs
	}
	return out, nil
}

func (d bookDoc) record() *types.CatalogRecord {
	rec := &types.CatalogRecord{
		ID:              d.ID.Hex(),
		SourceName:      d.ElsName,
		ExternalID:      d.ExternalID,
		Authors:         d.Authors,
		ISBN:            d.ISBN,
		ISSN:            d.ISSN,
		Publisher:       d.Publisher,
		Title:           d.Name,
		Year:            d.Year,
		Pages:           d.Pages,
		RawBibliography: strings.TrimSpace(d.Bib),
		Processed:       d.Compared,
	}
	if len(d.SimilarBooks) > 0 {
		rec.SimilarityLinks = make(map[string][]types.SimilarityLink, len(d.SimilarBooks))
		for source, list := range d.SimilarBooks {
			links := make([]types.SimilarityLink, 0, len(list))
			for _, s := range list {
				links = append(links, types.SimilarityLink{
					TargetID:         s.BookID.Hex(),
					TargetExternalID: s.ExternalID,
					Coefficient:      s.Coefficient,
				})
			}
			rec.SimilarityLinks[source] = links
		}
	}
	return rec
}
