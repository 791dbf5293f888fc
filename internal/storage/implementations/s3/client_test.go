package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

type storedObject struct {
	body     []byte
	encoding *string
}

// fakeS3 serves the calls the storage makes from an in-memory bucket.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string]storedObject
	puts    []*s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]storedObject)}
}

func (f *fakeS3) HeadBucketWithContext(ctx aws.Context, in *s3.HeadBucketInput, _ ...request.Option) (*s3.HeadBucketOutput, error) {
	if aws.StringValue(in.Bucket) != "test-bucket" {
		return nil, awserr.New("NotFound", "bucket not found", nil)
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = storedObject{body: body, encoding: in.ContentEncoding}
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{
		Body:            io.NopCloser(bytes.NewReader(obj.body)),
		ContentEncoding: obj.encoding,
	}, nil
}

func (f *fakeS3) DeleteObjectWithContext(ctx aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(ctx aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if bytes.HasPrefix([]byte(k), []byte(aws.StringValue(in.Prefix))) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	// one object per page exercises pagination
	for i, k := range keys {
		page := &s3.ListObjectsV2Output{Contents: []*s3.Object{{Key: aws.String(k)}}}
		if !fn(page, i == len(keys)-1) {
			break
		}
	}
	return nil
}

func newTestStorage(t *testing.T, config *S3Config) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	storage, err := NewS3StorageWithClient(config, fake, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(context.Background()))
	return storage, fake
}

func TestNewS3Storage(t *testing.T) {
	config := &S3Config{
		Region: "us-east-1",
		Bucket: "test-bucket",
	}

	logger := logrus.New()
	storage, err := NewS3Storage(config, logger)

	require.NoError(t, err)
	require.NotNil(t, storage)
	assert.Equal(t, config, storage.config)
	assert.Equal(t, logger, storage.logger)
}

func TestNewS3StorageInvalidConfig(t *testing.T) {
	_, err := NewS3Storage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 config cannot be nil")

	_, err = NewS3Storage(&S3Config{Region: "us-east-1"}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 bucket is required")
}

func TestS3StorageGenerateKey(t *testing.T) {
	storage, err := NewS3Storage(&S3Config{Bucket: "test-bucket", Prefix: "test-prefix"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "test-prefix/dashboards/abc.json", storage.generateKey("abc"))

	storage, err = NewS3Storage(&S3Config{Bucket: "test-bucket"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "dashboards/abc.json", storage.generateKey("abc"))
}

func TestS3StorageExtractUIDFromKey(t *testing.T) {
	storage, err := NewS3Storage(&S3Config{Bucket: "test-bucket", Prefix: "p"}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, "abc", storage.extractUIDFromKey("p/dashboards/abc.json"))
	assert.Equal(t, "", storage.extractUIDFromKey("p/dashboards/nested/abc.json"))
	assert.Equal(t, "", storage.extractUIDFromKey("other/abc.json"))
	assert.Equal(t, "", storage.extractUIDFromKey(""))
}

func TestS3StorageConnectMissingBucket(t *testing.T) {
	storage, err := NewS3StorageWithClient(&S3Config{Bucket: "missing"}, newFakeS3(), logrus.New())
	require.NoError(t, err)

	err = storage.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsStorage(err))
}

func TestS3StorageRoundTrip(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		storage, fake := newTestStorage(t, &S3Config{
			Bucket:         "test-bucket",
			Prefix:         "prod",
			UseCompression: compressed,
			StorageClass:   "STANDARD_IA",
			Timeout:        time.Second,
		})
		ctx := context.Background()

		_, err := storage.Load(ctx, "abc")
		assert.True(t, errors.IsNotFound(err))

		doc := []byte(`{"uid":"abc","title":"Payments"}`)
		require.NoError(t, storage.Save(ctx, "abc", doc))

		got, err := storage.Load(ctx, "abc")
		require.NoError(t, err)
		assert.JSONEq(t, string(doc), string(got))

		require.Len(t, fake.puts, 1)
		put := fake.puts[0]
		assert.Equal(t, "STANDARD_IA", aws.StringValue(put.StorageClass))
		if compressed {
			assert.Equal(t, "gzip", aws.StringValue(put.ContentEncoding))
			assert.NotEqual(t, doc, fake.objects["prod/dashboards/abc.json"].body)
		} else {
			assert.Nil(t, put.ContentEncoding)
		}

		require.NoError(t, storage.Delete(ctx, "abc"))
		require.NoError(t, storage.Delete(ctx, "abc"))
		_, err = storage.Load(ctx, "abc")
		assert.True(t, errors.IsNotFound(err))
	}
}

func TestS3StorageSearch(t *testing.T) {
	storage, fake := newTestStorage(t, &S3Config{Bucket: "test-bucket"})
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range []string{"Checkout", "Checkout v2", "Search"} {
		d := &models.Dashboard{
			UID:   title[:1] + string(rune('0'+i)),
			Title: title,
			Meta:  models.DashboardMeta{Updated: base.Add(time.Duration(i) * time.Minute)},
		}
		data, err := models.EncodeDashboard(d)
		require.NoError(t, err)
		require.NoError(t, storage.Save(ctx, d.UID, data))
	}
	fake.objects["dashboards/broken.json"] = storedObject{body: []byte("nope")}
	fake.objects["elsewhere/x.json"] = storedObject{body: []byte(`{"title":"Checkout"}`)}

	results, err := storage.Search(ctx, &models.SearchQuery{Query: "checkout"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Checkout v2", results[0].Title)
	assert.Equal(t, "Checkout", results[1].Title)
}

func TestS3StorageClosed(t *testing.T) {
	storage, _ := newTestStorage(t, &S3Config{Bucket: "test-bucket"})
	require.NoError(t, storage.Close())

	err := storage.Save(context.Background(), "abc", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 not connected")
}
