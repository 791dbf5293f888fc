package mongo

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/inferloop/dashengine/internal/storage/search"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// MongoConfig holds configuration for MongoDB storage
type MongoConfig struct {
	URI            string        `json:"uri" mapstructure:"uri"`
	Database       string        `json:"database" mapstructure:"database"`
	Collection     string        `json:"collection" mapstructure:"collection"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
}

// dashboardDocument is the stored form. The searchable fields are lifted out
// of the JSON document so the server can filter on them.
type dashboardDocument struct {
	UID         string    `bson:"_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description,omitempty"`
	Tags        []string  `bson:"tags"`
	Updated     time.Time `bson:"updated"`
	Data        string    `bson:"data"`
}

// MongoStorage keeps one document per dashboard in a collection.
type MongoStorage struct {
	config     *MongoConfig
	client     *mongo.Client
	collection *mongo.Collection
	logger     *logrus.Logger
	mu         sync.RWMutex
}

// NewMongoStorage creates a new MongoDB storage instance
func NewMongoStorage(config *MongoConfig, logger *logrus.Logger) (*MongoStorage, error) {
	if config == nil {
		return nil, errors.NewStoreConfigError("Mongo config cannot be nil")
	}
	if config.URI == "" {
		return nil, errors.NewStoreConfigError("Mongo uri is required")
	}
	if config.Database == "" {
		config.Database = "dashengine"
	}
	if config.Collection == "" {
		config.Collection = "dashboards"
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &MongoStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect dials the server and ensures the search index exists
func (m *MongoStorage) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return nil
	}

	opts := options.Client().ApplyURI(m.config.URI).SetConnectTimeout(m.config.ConnectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errors.NewStoreConnectionError("mongo", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return errors.NewStoreConnectionError("mongo", err)
	}

	collection := client.Database(m.config.Database).Collection(m.config.Collection)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated", Value: -1}},
	})
	if err != nil {
		client.Disconnect(ctx)
		return errors.WrapStorageError(err, "connect", "failed to create Mongo index")
	}

	m.client = client
	m.collection = collection
	m.logger.WithFields(logrus.Fields{
		"database":   m.config.Database,
		"collection": m.config.Collection,
	}).Info("Connected to MongoDB")
	return nil
}

// Close disconnects from the server
func (m *MongoStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	err := m.client.Disconnect(ctx)
	m.client = nil
	m.collection = nil
	if err != nil {
		return errors.WrapStorageError(err, "close", "failed to disconnect from MongoDB")
	}
	return nil
}

// Ping tests the MongoDB connection
func (m *MongoStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil {
		return errors.NewStorageError(errors.CodeNotConnected, "MongoDB not connected")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return errors.NewStoreConnectionError("mongo", err)
	}
	return nil
}

// Load returns the stored document for uid
func (m *MongoStorage) Load(ctx context.Context, uid string) ([]byte, error) {
	collection, err := m.coll()
	if err != nil {
		return nil, err
	}

	var doc dashboardDocument
	err = collection.FindOne(ctx, bson.M{"_id": uid}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NewDashboardNotFoundError(uid)
	}
	if err != nil {
		return nil, errors.NewStoreReadError(uid, err)
	}
	return []byte(doc.Data), nil
}

// Save upserts the document for uid
func (m *MongoStorage) Save(ctx context.Context, uid string, data []byte) error {
	collection, err := m.coll()
	if err != nil {
		return err
	}

	doc := newDocument(uid, data)
	_, err = collection.ReplaceOne(ctx, bson.M{"_id": uid}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.NewStoreWriteError(uid, err)
	}
	return nil
}

// Delete removes the document for uid
func (m *MongoStorage) Delete(ctx context.Context, uid string) error {
	collection, err := m.coll()
	if err != nil {
		return err
	}

	if _, err := collection.DeleteOne(ctx, bson.M{"_id": uid}); err != nil {
		return errors.NewStoreDeleteError(uid, err)
	}
	return nil
}

// Search filters on the server, then applies the shared matching rules to
// the returned documents
func (m *MongoStorage) Search(ctx context.Context, query *models.SearchQuery) ([]*models.Dashboard, error) {
	collection, err := m.coll()
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "updated", Value: -1}})
	if query != nil && query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}

	cursor, err := collection.Find(ctx, buildFilter(query), opts)
	if err != nil {
		return nil, errors.WrapStorageError(err, "search", "failed to query MongoDB")
	}
	defer cursor.Close(ctx)

	var entries []search.Entry
	for cursor.Next(ctx) {
		var doc dashboardDocument
		if err := cursor.Decode(&doc); err != nil {
			m.logger.WithError(err).Warn("Skipping undecodable Mongo document")
			continue
		}
		entries = append(entries, search.Entry{UID: doc.UID, Data: []byte(doc.Data)})
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.WrapStorageError(err, "search", "failed to read MongoDB cursor")
	}

	return search.Collect(entries, query, m.logger), nil
}

func (m *MongoStorage) coll() (*mongo.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.collection == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "MongoDB not connected")
	}
	return m.collection, nil
}

func newDocument(uid string, data []byte) *dashboardDocument {
	fields := gjson.GetManyBytes(data, "title", "description", "tags", "meta.updated")
	tags := lo.Map(fields[2].Array(), func(r gjson.Result, _ int) string { return r.String() })

	return &dashboardDocument{
		UID:         uid,
		Title:       fields[0].String(),
		Description: fields[1].String(),
		Tags:        tags,
		Updated:     fields[3].Time().UTC(),
		Data:        string(data),
	}
}

// buildFilter translates a search query into a Mongo filter. Matching is
// case-insensitive, like the in-process search.
func buildFilter(query *models.SearchQuery) bson.M {
	filter := bson.M{}
	if query == nil {
		return filter
	}

	if len(query.Tags) > 0 {
		filter["$and"] = lo.Map(query.Tags, func(tag string, _ int) bson.M {
			return bson.M{"tags": bson.M{"$regex": "^" + regexp.QuoteMeta(tag) + "$", "$options": "i"}}
		})
	}

	if q := strings.TrimSpace(query.Query); q != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"description": pattern},
			bson.M{"tags": pattern},
		}
	}
	return filter
}
