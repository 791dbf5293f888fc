package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/storage/search"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

const (
	objectDir       = "dashboards"
	objectExtension = ".json"
	gzipEncoding    = "gzip"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region" mapstructure:"region"`
	Bucket          string        `json:"bucket" mapstructure:"bucket"`
	AccessKeyID     string        `json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" mapstructure:"session_token"`
	Endpoint        string        `json:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle  bool          `json:"force_path_style" mapstructure:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" mapstructure:"disable_ssl"`
	Prefix          string        `json:"prefix" mapstructure:"prefix"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
	UseCompression  bool          `json:"use_compression" mapstructure:"use_compression"`
	StorageClass    string        `json:"storage_class" mapstructure:"storage_class"`
}

// S3Storage stores one object per dashboard under <prefix>/dashboards/.
type S3Storage struct {
	config   *S3Config
	s3Client s3iface.S3API
	logger   *logrus.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStoreConfigError("S3 config cannot be nil")
	}

	if config.Bucket == "" {
		return nil, errors.NewStoreConfigError("S3 bucket is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config: config,
		logger: logger,
	}, nil
}

// NewS3StorageWithClient creates a storage that uses client instead of
// building an AWS session in Connect.
func NewS3StorageWithClient(config *S3Config, client s3iface.S3API, logger *logrus.Logger) (*S3Storage, error) {
	s, err := NewS3Storage(config, logger)
	if err != nil {
		return nil, err
	}
	s.s3Client = client
	return s, nil
}

// Connect establishes connection to S3
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client == nil {
		awsConfig := &aws.Config{
			Region:     aws.String(s.config.Region),
			MaxRetries: aws.Int(s.config.MaxRetries),
		}

		if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
			awsConfig.Credentials = credentials.NewStaticCredentials(
				s.config.AccessKeyID,
				s.config.SecretAccessKey,
				s.config.SessionToken,
			)
		}

		// S3-compatible services
		if s.config.Endpoint != "" {
			awsConfig.Endpoint = aws.String(s.config.Endpoint)
			awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
		}

		if s.config.DisableSSL {
			awsConfig.DisableSSL = aws.Bool(true)
		}

		sess, err := session.NewSession(awsConfig)
		if err != nil {
			return errors.NewStoreConnectionError("s3", err)
		}
		s.s3Client = s3.New(sess)
	}

	if _, err := s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.NewStoreConnectionError("s3", fmt.Errorf("bucket %q: %w", s.config.Bucket, err))
	}
	s.closed = false

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
	}).Info("Connected to S3")

	return nil
}

// Close closes the S3 connection
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("S3 connection closed")
	return nil
}

// Ping tests the S3 connection
func (s *S3Storage) Ping(ctx context.Context) error {
	client, err := s.client()
	if err != nil {
		return err
	}

	if _, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.NewStoreConnectionError("s3", err)
	}
	return nil
}

// Load downloads the object for uid
func (s *S3Storage) Load(ctx context.Context, uid string) ([]byte, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.getObject(ctx, client, s.generateKey(uid))
	if isNotFound(err) {
		return nil, errors.NewDashboardNotFoundError(uid)
	}
	if err != nil {
		return nil, errors.NewStoreReadError(uid, err)
	}
	return data, nil
}

// Save uploads data, gzip-compressed when configured
func (s *S3Storage) Save(ctx context.Context, uid string, data []byte) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	body := data
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.generateKey(uid)),
		ContentType: aws.String("application/json"),
		Metadata: map[string]*string{
			"dashboard-uid": aws.String(uid),
		},
	}

	if s.config.UseCompression {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return errors.NewStoreWriteError(uid, err)
		}
		if err := gz.Close(); err != nil {
			return errors.NewStoreWriteError(uid, err)
		}
		body = buf.Bytes()
		input.ContentEncoding = aws.String(gzipEncoding)
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}
	input.Body = bytes.NewReader(body)

	if _, err := client.PutObjectWithContext(ctx, input); err != nil {
		return errors.NewStoreWriteError(uid, err)
	}

	s.logger.WithFields(logrus.Fields{
		"uid":        uid,
		"bytes":      len(body),
		"compressed": s.config.UseCompression,
	}).Debug("Uploaded dashboard to S3")
	return nil
}

// Delete removes the object for uid. S3 reports success for missing keys.
func (s *S3Storage) Delete(ctx context.Context, uid string) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.generateKey(uid)),
	}); err != nil && !isNotFound(err) {
		return errors.NewStoreDeleteError(uid, err)
	}
	return nil
}

// Search lists every dashboard object and filters the downloaded documents
func (s *S3Storage) Search(ctx context.Context, query *models.SearchQuery) ([]*models.Dashboard, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}

	var keys []string
	err = client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.listPrefix()),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, errors.WrapStorageError(err, "search", "failed to list S3 dashboards")
	}

	entries := make([]search.Entry, 0, len(keys))
	for _, key := range keys {
		uid := s.extractUIDFromKey(key)
		if uid == "" {
			continue
		}
		data, err := s.getObject(ctx, client, key)
		if err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Skipping unreadable S3 object")
			continue
		}
		entries = append(entries, search.Entry{UID: uid, Data: data})
	}

	return search.Collect(entries, query, s.logger), nil
}

func (s *S3Storage) getObject(ctx context.Context, client s3iface.S3API, key string) ([]byte, error) {
	out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	var reader io.Reader = out.Body
	if aws.StringValue(out.ContentEncoding) == gzipEncoding {
		gz, err := gzip.NewReader(out.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

func (s *S3Storage) client() (s3iface.S3API, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "S3 not connected")
	}
	return s.s3Client, nil
}

func (s *S3Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *S3Storage) listPrefix() string {
	if s.config.Prefix != "" {
		return path.Join(s.config.Prefix, objectDir) + "/"
	}
	return objectDir + "/"
}

func (s *S3Storage) generateKey(uid string) string {
	return s.listPrefix() + uid + objectExtension
}

func (s *S3Storage) extractUIDFromKey(key string) string {
	if !strings.HasPrefix(key, s.listPrefix()) || !strings.HasSuffix(key, objectExtension) {
		return ""
	}
	uid := strings.TrimSuffix(strings.TrimPrefix(key, s.listPrefix()), objectExtension)
	if strings.Contains(uid, "/") {
		return ""
	}
	return uid
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if err == nil || !stderrors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
