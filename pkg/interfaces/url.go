package interfaces

import "github.com/inferloop/dashengine/pkg/models"

// URLState is the view state carried in a dashboard URL
type URLState struct {
	From      string
	To        string
	Refresh   string
	Variables map[string][]string
}

// URLBridge keeps view state and an external URL in sync
type URLBridge interface {
	// GetURLState returns the state currently encoded in the URL
	GetURLState() URLState

	// SyncTimeRange writes the time range and refresh interval to the URL
	SyncTimeRange(timeRange models.TimeRange, refresh string)

	// SyncVariables writes the current variable selections to the URL
	SyncVariables(variables []*models.Variable)

	// Subscribe registers a listener for URL changes made outside the view
	// and returns a function that removes it
	Subscribe(listener func(URLState)) (unsubscribe func())
}
