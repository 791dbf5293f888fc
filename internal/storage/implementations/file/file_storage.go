package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/storage/search"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

const fileExtension = ".json"

// FileStorageConfig contains configuration for file-based storage
type FileStorageConfig struct {
	BasePath   string `json:"base_path" yaml:"base_path" mapstructure:"base_path"`
	CreateDirs bool   `json:"create_dirs" yaml:"create_dirs" mapstructure:"create_dirs"` // auto-create directories
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes" mapstructure:"sync_writes"` // fsync before rename
}

// FileStorage stores one JSON document per dashboard under BasePath.
type FileStorage struct {
	config    *FileStorageConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		return nil, errors.NewStoreConfigError("FileStorageConfig cannot be nil")
	}

	if config.BasePath == "" {
		return nil, errors.NewStoreConfigError("BasePath is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &FileStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect initializes the file storage
func (fs *FileStorage) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.connected {
		return nil
	}

	if fs.config.CreateDirs {
		if err := os.MkdirAll(fs.config.BasePath, 0o755); err != nil {
			return errors.NewStoreConnectionError("file", err)
		}
	}

	info, err := os.Stat(fs.config.BasePath)
	if err != nil {
		return errors.NewStoreConnectionError("file", err)
	}
	if !info.IsDir() {
		return errors.NewStoreConnectionError("file", fmt.Errorf("%s is not a directory", fs.config.BasePath))
	}

	// Test write permissions
	probe, err := os.CreateTemp(fs.config.BasePath, ".write_test")
	if err != nil {
		return errors.NewStoreConnectionError("file", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	fs.connected = true
	fs.logger.WithField("base_path", fs.config.BasePath).Info("Connected to file storage")
	return nil
}

// Close marks the storage disconnected
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.connected = false
	return nil
}

// Ping checks that the base directory is still reachable
func (fs *FileStorage) Ping(ctx context.Context) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return errors.NewStorageError(errors.CodeNotConnected, "file storage not connected")
	}
	if _, err := os.Stat(fs.config.BasePath); err != nil {
		return errors.NewStoreConnectionError("file", err)
	}
	return nil
}

// Load reads the document stored for uid
func (fs *FileStorage) Load(ctx context.Context, uid string) ([]byte, error) {
	path, err := fs.pathFor(uid)
	if err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NewDashboardNotFoundError(uid)
	}
	if err != nil {
		return nil, errors.NewStoreReadError(uid, err)
	}
	return data, nil
}

// Save writes data to a temporary file and renames it over the previous
// document, so readers never observe a partial write.
func (fs *FileStorage) Save(ctx context.Context, uid string, data []byte) error {
	path, err := fs.pathFor(uid)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp, err := os.CreateTemp(fs.config.BasePath, "."+uid+".*.tmp")
	if err != nil {
		return errors.NewStoreWriteError(uid, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewStoreWriteError(uid, err)
	}
	if fs.config.SyncWrites {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return errors.NewStoreWriteError(uid, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return errors.NewStoreWriteError(uid, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.NewStoreWriteError(uid, err)
	}

	fs.logger.WithFields(logrus.Fields{
		"uid":   uid,
		"bytes": len(data),
	}).Debug("Wrote dashboard file")
	return nil
}

// Delete removes the document for uid
func (fs *FileStorage) Delete(ctx context.Context, uid string) error {
	path, err := fs.pathFor(uid)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewStoreDeleteError(uid, err)
	}
	return nil
}

// Search reads every document in the base directory
func (fs *FileStorage) Search(ctx context.Context, query *models.SearchQuery) ([]*models.Dashboard, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dirEntries, err := os.ReadDir(fs.config.BasePath)
	if err != nil {
		return nil, errors.WrapStorageError(err, "search", "failed to list dashboard files")
	}

	entries := make([]search.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != fileExtension {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.config.BasePath, name))
		if err != nil {
			fs.logger.WithError(err).WithField("file", name).Warn("Skipping unreadable dashboard file")
			continue
		}
		entries = append(entries, search.Entry{UID: strings.TrimSuffix(name, fileExtension), Data: data})
	}

	return search.Collect(entries, query, fs.logger), nil
}

// pathFor maps uid to its file, rejecting uids that would escape BasePath.
func (fs *FileStorage) pathFor(uid string) (string, error) {
	if uid == "" || uid == "." || uid == ".." || strings.ContainsAny(uid, `/\`) || strings.HasPrefix(uid, ".") {
		return "", errors.NewValidationError("uid", fmt.Sprintf("uid %q cannot be used as a file name", uid))
	}
	return filepath.Join(fs.config.BasePath, uid+fileExtension), nil
}
