package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/edu292/stremtui/internal/domain"
)

type watchRecordDoc struct {
	ItemID      string `bson:"itemId"`
	StreamTitle string `bson:"streamTitle"`
	InfoHash    string `bson:"infoHash"`
	StartedAt   int64  `bson:"startedAt"`
	EndedAt     int64  `bson:"endedAt"`
	Completed   bool   `bson:"completed"`
}

// WatchHistoryRepository stores one document per finished playback session.
type WatchHistoryRepository struct {
	collection *mongo.Collection
}

func NewWatchHistoryRepository(client *mongo.Client, dbName string) *WatchHistoryRepository {
	return &WatchHistoryRepository{collection: client.Database(dbName).Collection("watch_history")}
}

func (r *WatchHistoryRepository) Record(ctx context.Context, record domain.WatchRecord) error {
	doc := watchRecordDoc{
		ItemID:      record.ItemID,
		StreamTitle: record.StreamTitle,
		InfoHash:    record.InfoHash,
		StartedAt:   record.StartedAt.Unix(),
		EndedAt:     record.EndedAt.Unix(),
		Completed:   record.Completed,
	}
	_, err := r.collection.InsertOne(ctx, doc)
	return err
}

func (r *WatchHistoryRepository) Recent(ctx context.Context, limit int) ([]domain.WatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "endedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []watchRecordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]domain.WatchRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, docToRecord(doc))
	}
	return records, nil
}

func docToRecord(doc watchRecordDoc) domain.WatchRecord {
	return domain.WatchRecord{
		ItemID:      doc.ItemID,
		StreamTitle: doc.StreamTitle,
		InfoHash:    doc.InfoHash,
		StartedAt:   unixUTC(doc.StartedAt),
		EndedAt:     unixUTC(doc.EndedAt),
		Completed:   doc.Completed,
	}
}

func unixUTC(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
