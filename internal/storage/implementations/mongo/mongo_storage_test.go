package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

func TestNewMongoStorageDefaults(t *testing.T) {
	_, err := NewMongoStorage(nil, logrus.New())
	assert.Error(t, err)

	_, err = NewMongoStorage(&MongoConfig{}, logrus.New())
	assert.ErrorContains(t, err, "uri is required")

	storage, err := NewMongoStorage(&MongoConfig{URI: "mongodb://localhost:27017"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "dashengine", storage.config.Database)
	assert.Equal(t, "dashboards", storage.config.Collection)
	assert.Equal(t, 10*time.Second, storage.config.ConnectTimeout)
}

func TestNewDocument(t *testing.T) {
	updated := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	data, err := models.EncodeDashboard(&models.Dashboard{
		UID:         "abc",
		Title:       "Queues",
		Description: "rabbit",
		Tags:        []string{"mq", "prod"},
		Meta:        models.DashboardMeta{Updated: updated},
	})
	require.NoError(t, err)

	doc := newDocument("abc", data)
	assert.Equal(t, "abc", doc.UID)
	assert.Equal(t, "Queues", doc.Title)
	assert.Equal(t, "rabbit", doc.Description)
	assert.Equal(t, []string{"mq", "prod"}, doc.Tags)
	assert.True(t, updated.Equal(doc.Updated))
	assert.Equal(t, string(data), doc.Data)
}

func TestBuildFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, buildFilter(nil))
	assert.Equal(t, bson.M{}, buildFilter(&models.SearchQuery{Query: "  "}))

	filter := buildFilter(&models.SearchQuery{Query: "a.b", Tags: []string{"Prod"}})

	and, ok := filter["$and"].([]bson.M)
	require.True(t, ok)
	require.Len(t, and, 1)
	assert.Equal(t, bson.M{"tags": bson.M{"$regex": "^Prod$", "$options": "i"}}, and[0])

	or, ok := filter["$or"].(bson.A)
	require.True(t, ok)
	require.Len(t, or, 3)
	assert.Equal(t, bson.M{"title": bson.M{"$regex": `a\.b`, "$options": "i"}}, or[0])
}

func TestMongoStorageNotConnected(t *testing.T) {
	storage, err := NewMongoStorage(&MongoConfig{URI: "mongodb://localhost:27017"}, logrus.New())
	require.NoError(t, err)

	_, err = storage.Load(context.Background(), "abc")
	assert.True(t, errors.IsStorage(err))
	assert.Error(t, storage.Ping(context.Background()))
	assert.NoError(t, storage.Close())
}

func TestMongoStorageIntegration(t *testing.T) {
	uri := os.Getenv("DASHENGINE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("Integration test - set DASHENGINE_TEST_MONGO_URI to run against MongoDB")
	}

	ctx := context.Background()
	storage, err := NewMongoStorage(&MongoConfig{URI: uri, Collection: "test_" + uuid.NewString()}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(ctx))
	defer func() {
		storage.collection.Drop(ctx)
		storage.Close()
	}()

	data, err := models.EncodeDashboard(&models.Dashboard{UID: "m1", Title: "Mongo", Tags: []string{"db"}})
	require.NoError(t, err)
	require.NoError(t, storage.Save(ctx, "m1", data))

	results, err := storage.Search(ctx, &models.SearchQuery{Tags: []string{"DB"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, storage.Delete(ctx, "m1"))
	_, err = storage.Load(ctx, "m1")
	assert.True(t, errors.IsNotFound(err))
}
