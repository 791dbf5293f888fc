package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/inferloop/dashengine/internal/storage/search"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// RedisConfig holds configuration for Redis storage
type RedisConfig struct {
	Addr          string        `json:"addr" mapstructure:"addr"`
	Password      string        `json:"password" mapstructure:"password"`
	DB            int           `json:"db" mapstructure:"db"`
	DialTimeout   time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	PoolSize      int           `json:"pool_size" mapstructure:"pool_size"`
	MinIdleConns  int           `json:"min_idle_conns" mapstructure:"min_idle_conns"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	IdleTimeout   time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	KeyPrefix     string        `json:"key_prefix" mapstructure:"key_prefix"`
	UseClustering bool          `json:"use_clustering" mapstructure:"use_clustering"`
	ClusterAddrs  []string      `json:"cluster_addrs" mapstructure:"cluster_addrs"`
}

// RedisStorage keeps each dashboard as a string key and indexes uids in a
// sorted set scored by the dashboard's update time.
type RedisStorage struct {
	config  *RedisConfig
	client  redis.UniversalClient
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *storageMetrics
	closed  bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	deleteOps  int64
	errorCount int64
	hitCount   int64
	missCount  int64
	startTime  time.Time
	mu         sync.RWMutex
}

// StorageStats is a snapshot of the operation counters.
type StorageStats struct {
	ReadOperations   int64         `json:"read_operations"`
	WriteOperations  int64         `json:"write_operations"`
	DeleteOperations int64         `json:"delete_operations"`
	ErrorCount       int64         `json:"error_count"`
	Hits             int64         `json:"hits"`
	Misses           int64         `json:"misses"`
	Uptime           time.Duration `json:"uptime"`
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewStoreConfigError("Redis config cannot be nil")
	}

	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStoreConfigError("Redis address or cluster addresses are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &RedisStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect establishes connection to Redis
func (r *RedisStorage) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil // Already connected
	}

	var client redis.UniversalClient

	if r.config.UseClustering && len(r.config.ClusterAddrs) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        r.config.ClusterAddrs,
			Password:     r.config.Password,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MinIdleConns: r.config.MinIdleConns,
			MaxRetries:   r.config.MaxRetries,
			IdleTimeout:  r.config.IdleTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         r.config.Addr,
			Password:     r.config.Password,
			DB:           r.config.DB,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MinIdleConns: r.config.MinIdleConns,
			MaxRetries:   r.config.MaxRetries,
			IdleTimeout:  r.config.IdleTimeout,
		})
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return errors.NewStoreConnectionError("redis", err)
	}

	r.client = client
	r.closed = false

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"db":         r.config.DB,
		"clustering": r.config.UseClustering,
	}).Info("Connected to Redis")

	return nil
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		if err != nil {
			return errors.WrapStorageError(err, "close", "failed to close Redis connection")
		}
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection
func (r *RedisStorage) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		r.incrementErrorCount()
		return errors.NewStoreConnectionError("redis", err)
	}
	return nil
}

// Load returns the stored document for uid
func (r *RedisStorage) Load(ctx context.Context, uid string) ([]byte, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}
	r.incrementReadOps()

	data, err := client.Get(ctx, r.generateDashboardKey(uid)).Bytes()
	if err == redis.Nil {
		r.incrementMissCount()
		return nil, errors.NewDashboardNotFoundError(uid)
	}
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.NewStoreReadError(uid, err)
	}

	r.incrementHitCount()
	return data, nil
}

// Save writes the document and updates the index in one transaction
func (r *RedisStorage) Save(ctx context.Context, uid string, data []byte) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	r.incrementWriteOps()

	score := float64(updatedAt(data).UnixMilli())
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.generateDashboardKey(uid), data, r.config.TTL)
		pipe.ZAdd(ctx, r.generateIndexKey(), &redis.Z{Score: score, Member: uid})
		return nil
	})
	if err != nil {
		r.incrementErrorCount()
		return errors.NewStoreWriteError(uid, err)
	}

	r.logger.WithFields(logrus.Fields{
		"uid":   uid,
		"bytes": len(data),
	}).Debug("Stored dashboard in Redis")
	return nil
}

// Delete removes the document and its index entry
func (r *RedisStorage) Delete(ctx context.Context, uid string) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	r.incrementDeleteOps()

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.generateDashboardKey(uid))
		pipe.ZRem(ctx, r.generateIndexKey(), uid)
		return nil
	})
	if err != nil {
		r.incrementErrorCount()
		return errors.NewStoreDeleteError(uid, err)
	}
	return nil
}

// Search walks the index newest first and filters the documents. Index
// entries whose key has expired are pruned.
func (r *RedisStorage) Search(ctx context.Context, query *models.SearchQuery) ([]*models.Dashboard, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}
	r.incrementReadOps()

	uids, err := client.ZRevRange(ctx, r.generateIndexKey(), 0, -1).Result()
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "search", "failed to read Redis dashboard index")
	}
	if len(uids) == 0 {
		return []*models.Dashboard{}, nil
	}

	keys := make([]string, len(uids))
	for i, uid := range uids {
		keys[i] = r.generateDashboardKey(uid)
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapStorageError(err, "search", "failed to read Redis dashboards")
	}

	entries := make([]search.Entry, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, uids[i])
			continue
		}
		entries = append(entries, search.Entry{UID: uids[i], Data: []byte(s)})
	}
	if len(stale) > 0 {
		if err := client.ZRem(ctx, r.generateIndexKey(), stale...).Err(); err != nil {
			r.logger.WithError(err).Warn("Failed to prune expired dashboards from index")
		}
	}

	return search.Collect(entries, query, r.logger), nil
}

// Stats returns the operation counters
func (r *RedisStorage) Stats() StorageStats {
	r.metrics.mu.RLock()
	defer r.metrics.mu.RUnlock()

	return StorageStats{
		ReadOperations:   r.metrics.readOps,
		WriteOperations:  r.metrics.writeOps,
		DeleteOperations: r.metrics.deleteOps,
		ErrorCount:       r.metrics.errorCount,
		Hits:             r.metrics.hitCount,
		Misses:           r.metrics.missCount,
		Uptime:           time.Since(r.metrics.startTime),
	}
}

func (r *RedisStorage) conn() (redis.UniversalClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "Redis not connected")
	}
	return r.client, nil
}

func (r *RedisStorage) generateDashboardKey(uid string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:dashboard:%s", r.config.KeyPrefix, uid)
	}
	return fmt.Sprintf("dashboard:%s", uid)
}

func (r *RedisStorage) generateIndexKey() string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:dashboards", r.config.KeyPrefix)
	}
	return "dashboards"
}

// updatedAt reads meta.updated without decoding the whole document.
func updatedAt(data []byte) time.Time {
	return gjson.GetBytes(data, "meta.updated").Time()
}

func (r *RedisStorage) incrementReadOps() {
	r.metrics.mu.Lock()
	r.metrics.readOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementWriteOps() {
	r.metrics.mu.Lock()
	r.metrics.writeOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementDeleteOps() {
	r.metrics.mu.Lock()
	r.metrics.deleteOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementErrorCount() {
	r.metrics.mu.Lock()
	r.metrics.errorCount++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementHitCount() {
	r.metrics.mu.Lock()
	r.metrics.hitCount++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementMissCount() {
	r.metrics.mu.Lock()
	r.metrics.missCount++
	r.metrics.mu.Unlock()
}
