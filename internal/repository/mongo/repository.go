package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"magnetstream/internal/domain"
)

// Catalog stores one document per torrent ever added, keyed by info hash.
// It is history, not state: the registry never reads it back on startup.
type Catalog struct {
	collection *mongo.Collection
}

type fileDoc struct {
	Index  int    `bson:"index"`
	Name   string `bson:"name"`
	Path   string `bson:"path"`
	Length int64  `bson:"length"`
}

type sessionDoc struct {
	ID         string    `bson:"_id"`
	Magnet     string    `bson:"magnet"`
	Name       string    `bson:"name"`
	Files      []fileDoc `bson:"files"`
	TotalBytes int64     `bson:"totalBytes"`
	DoneBytes  int64     `bson:"doneBytes"`
	Progress   float64   `bson:"progress"` // Cached for sorting (0.0-1.0).
	CreatedAt  int64     `bson:"createdAt"`
	UpdatedAt  int64     `bson:"updatedAt"`
}

func NewCatalog(client *mongo.Client, dbName, collectionName string) *Catalog {
	return &Catalog{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Catalog) EnsureIndexes(ctx context.Context) error {
	if c == nil || c.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "progress", Value: -1}}},
	}
	_, err := c.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (c *Catalog) Create(ctx context.Context, rec domain.SessionRecord) error {
	_, err := c.collection.InsertOne(ctx, toDoc(rec))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
	}
	return err
}

func (c *Catalog) UpdateProgress(ctx context.Context, id domain.InfoHash, doneBytes int64) error {
	var doc sessionDoc
	err := c.collection.FindOne(ctx, bson.M{"_id": string(id)},
		options.FindOne().SetProjection(bson.M{"totalBytes": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ErrNotFound
		}
		return err
	}

	progress := 0.0
	if doc.TotalBytes > 0 {
		progress = float64(doneBytes) / float64(doc.TotalBytes)
	}

	res, err := c.collection.UpdateOne(
		ctx,
		bson.M{"_id": string(id)},
		bson.M{"$set": bson.M{
			"doneBytes": doneBytes,
			"progress":  progress,
			"updatedAt": time.Now().UTC().Unix(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (c *Catalog) Get(ctx context.Context, id domain.InfoHash) (domain.SessionRecord, error) {
	var doc sessionDoc
	if err := c.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.SessionRecord{}, domain.ErrNotFound
		}
		return domain.SessionRecord{}, err
	}
	return fromDoc(doc), nil
}

func (c *Catalog) List(ctx context.Context) ([]domain.SessionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := c.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]domain.SessionRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromDoc(doc))
	}
	return records, nil
}

func toDoc(rec domain.SessionRecord) sessionDoc {
	files := make([]fileDoc, 0, len(rec.Files))
	for _, f := range rec.Files {
		files = append(files, fileDoc{
			Index:  f.Index,
			Name:   f.Name,
			Path:   f.Path,
			Length: f.Length,
		})
	}

	progress := 0.0
	if rec.TotalBytes > 0 {
		progress = float64(rec.DoneBytes) / float64(rec.TotalBytes)
	}

	return sessionDoc{
		ID:         string(rec.InfoHash),
		Magnet:     rec.Magnet,
		Name:       rec.Name,
		Files:      files,
		TotalBytes: rec.TotalBytes,
		DoneBytes:  rec.DoneBytes,
		Progress:   progress,
		CreatedAt:  rec.CreatedAt.Unix(),
		UpdatedAt:  rec.UpdatedAt.Unix(),
	}
}

func fromDoc(doc sessionDoc) domain.SessionRecord {
	files := make([]domain.FileEntry, 0, len(doc.Files))
	for _, f := range doc.Files {
		files = append(files, domain.FileEntry{
			Index:  f.Index,
			Name:   f.Name,
			Path:   f.Path,
			Length: f.Length,
		})
	}

	return domain.SessionRecord{
		InfoHash:   domain.InfoHash(doc.ID),
		Magnet:     doc.Magnet,
		Name:       doc.Name,
		Files:      files,
		TotalBytes: doc.TotalBytes,
		DoneBytes:  doc.DoneBytes,
		CreatedAt:  time.Unix(doc.CreatedAt, 0).UTC(),
		UpdatedAt:  time.Unix(doc.UpdatedAt, 0).UTC(),
	}
}
