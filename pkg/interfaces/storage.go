package interfaces

import (
	"context"

	"github.com/inferloop/dashengine/pkg/models"
)

// Storage defines the connection lifecycle shared by every store backend
type Storage interface {
	// Connect establishes connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error
}

// DashboardStore persists serialized dashboards keyed by uid
type DashboardStore interface {
	Storage

	// Load returns the stored bytes for uid, or a not-found error
	Load(ctx context.Context, uid string) ([]byte, error)

	// Save stores data under uid, replacing any previous entry
	Save(ctx context.Context, uid string, data []byte) error

	// Delete removes the entry for uid; deleting a missing uid is not an error
	Delete(ctx context.Context, uid string) error

	// Search decodes stored dashboards matching the query, most recently
	// updated first. Entries that fail to decode are skipped.
	Search(ctx context.Context, query *models.SearchQuery) ([]*models.Dashboard, error)
}
