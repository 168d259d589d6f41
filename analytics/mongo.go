package analytics

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/errgroup"
)

const (
	visitorsCollection = "visitors"
	mongoOpTimeout     = 10 * time.Second
)

// MongoStore is a Store backed by a MongoDB collection with one document per identifier.
type MongoStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
}

// NewMongoStore connects to uri, verifies the connection and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = "visitor_counter"
	}
	connectCtx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{
		client:  client,
		coll:    client.Database(database).Collection(visitorsCollection),
		timeout: mongoOpTimeout,
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

// The unique identifier index makes concurrent upserts of a new visitor
// collapse into one document.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identifier", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "lastVisit", Value: 1}},
		},
	})
	return err
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func upsertVisitUpdate(userAgent string, at time.Time) bson.M {
	at = at.UTC()
	return bson.M{
		"$set": bson.M{
			"userAgent": clampUserAgent(userAgent),
			"lastVisit": at,
			"updatedAt": at,
		},
		"$setOnInsert": bson.M{"createdAt": at},
	}
}

// RecordVisit upserts the visitor document with FindOneAndUpdate.
func (s *MongoStore) RecordVisit(ctx context.Context, identifier, userAgent string, at time.Time) (VisitRecord, error) {
	identifier = normalizeIdentifier(identifier)
	if identifier == "" {
		return VisitRecord{}, ErrEmptyIdentifier
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var rec VisitRecord
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"identifier": identifier}, upsertVisitUpdate(userAgent, at), opts).Decode(&rec)
	if err != nil {
		return VisitRecord{}, fmt.Errorf("upsert visitor %s: %w", identifier, err)
	}
	return rec, nil
}

// VisitsSince returns visitors last seen within [from, to], oldest first.
func (s *MongoStore) VisitsSince(ctx context.Context, from, to time.Time) ([]VisitRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"lastVisit": bson.M{"$gte": from.UTC(), "$lte": to.UTC()}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "lastVisit", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	var visits []VisitRecord
	if err := cur.All(ctx, &visits); err != nil {
		return nil, fmt.Errorf("decode visits: %w", err)
	}
	return visits, nil
}

// Totals counts documents and distinct identifiers.
func (s *MongoStore) Totals(ctx context.Context) (Totals, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	total, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return Totals{}, fmt.Errorf("count visitors: %w", err)
	}
	ids, err := s.coll.Distinct(ctx, "identifier", bson.D{})
	if err != nil {
		return Totals{}, fmt.Errorf("distinct identifiers: %w", err)
	}
	return Totals{TotalVisitors: int(total), UniqueVisitors: len(ids)}, nil
}

// Seed upserts records in one ordered bulk write so later visits win.
func (s *MongoStore) Seed(ctx context.Context, records []VisitRecord) (int, error) {
	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		id := normalizeIdentifier(rec.Identifier)
		if id == "" {
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"identifier": id}).
			SetUpdate(upsertVisitUpdate(rec.UserAgent, rec.LastVisit)).
			SetUpsert(true))
	}
	if len(models) == 0 {
		return 0, nil
	}
	if _, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return 0, fmt.Errorf("seed visitors: %w", err)
	}
	return len(models), nil
}

// Clear deletes every visitor document.
func (s *MongoStore) Clear(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("clear visitors: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Summary runs the report pipelines concurrently and returns the first error.
func (s *MongoStore) Summary(ctx context.Context) (*Summary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var totals Totals
	g.Go(func() error {
		var err error
		totals, err = s.Totals(ctx)
		return err
	})

	var dateRange []struct {
		Earliest time.Time `bson:"earliest"`
		Latest   time.Time `bson:"latest"`
	}
	g.Go(func() error {
		err := s.aggregate(ctx, &dateRange, mongo.Pipeline{
			{{Key: "$group", Value: bson.M{
				"_id":      nil,
				"earliest": bson.M{"$min": "$lastVisit"},
				"latest":   bson.M{"$max": "$lastVisit"},
			}}},
		})
		if err != nil {
			return fmt.Errorf("date range: %w", err)
		}
		return nil
	})

	var years []struct {
		Year  int `bson:"_id"`
		Count int `bson:"count"`
	}
	g.Go(func() error {
		err := s.aggregate(ctx, &years, mongo.Pipeline{
			{{Key: "$group", Value: bson.M{"_id": bson.M{"$year": "$lastVisit"}, "count": bson.M{"$sum": 1}}}},
			{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		})
		if err != nil {
			return fmt.Errorf("visits by year: %w", err)
		}
		return nil
	})

	var agents []agentCount
	g.Go(func() error {
		err := s.aggregate(ctx, &agents, mongo.Pipeline{
			{{Key: "$group", Value: bson.M{
				"_id":   bson.M{"$ifNull": bson.A{"$userAgent", ""}},
				"count": bson.M{"$sum": 1},
			}}},
		})
		if err != nil {
			return fmt.Errorf("user agents: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := &Summary{Totals: totals, VisitsByYear: []YearCount{}}
	if len(dateRange) > 0 {
		sum.Earliest, sum.Latest = dateRange[0].Earliest.UTC(), dateRange[0].Latest.UTC()
	}
	for _, y := range years {
		sum.VisitsByYear = append(sum.VisitsByYear, YearCount{Year: y.Year, Count: y.Count})
	}
	sum.addAgents(agents)
	return sum, nil
}

func (s *MongoStore) aggregate(ctx context.Context, out any, pipeline mongo.Pipeline) error {
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}
