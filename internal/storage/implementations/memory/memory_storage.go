package memory

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/storage/search"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// MemoryStorage keeps dashboards in a process-local map. It backs tests and
// single-process deployments that do not need persistence.
type MemoryStorage struct {
	logger *logrus.Logger
	mu     sync.RWMutex
	blobs  map[string][]byte
	closed bool
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage(logger *logrus.Logger) *MemoryStorage {
	if logger == nil {
		logger = logrus.New()
	}
	return &MemoryStorage{
		logger: logger,
		blobs:  make(map[string][]byte),
	}
}

// Connect is a no-op; the store is ready once created.
func (m *MemoryStorage) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
	return nil
}

// Close drops nothing; stored dashboards survive a reconnect.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ping reports whether the store is open.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.NewStorageError(errors.CodeNotConnected, "memory store closed")
	}
	return nil
}

// Load returns a copy of the stored bytes.
func (m *MemoryStorage) Load(ctx context.Context, uid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[uid]
	if !ok {
		return nil, errors.NewDashboardNotFoundError(uid)
	}
	return append([]byte(nil), data...), nil
}

// Save stores a copy of data.
func (m *MemoryStorage) Save(ctx context.Context, uid string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[uid] = append([]byte(nil), data...)
	return nil
}

// Delete removes uid if present.
func (m *MemoryStorage) Delete(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, uid)
	return nil
}

// Search filters every stored dashboard.
func (m *MemoryStorage) Search(ctx context.Context, query *models.SearchQuery) ([]*models.Dashboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	entries := make([]search.Entry, 0, len(m.blobs))
	for uid, data := range m.blobs {
		entries = append(entries, search.Entry{UID: uid, Data: data})
	}
	m.mu.RUnlock()

	return search.Collect(entries, query, m.logger), nil
}

// Len returns the number of stored dashboards.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
