// Package eventstore binds the abstract Event Store the detection pipeline
// depends on to an embedded SQLite database. It owns the tourist_events and
// incident_alerts tables and the 2-minute per-tourist aggregation the
// analysis driver polls.
package eventstore

import (
	"context"
	"time"

	"github.com/safetrail-data/sentinel.report/internal/safety"
)

// Store is the Event Store surface the analysis driver requires. The SQLite
// DB below implements it; alternative bindings only need these operations.
type Store interface {
	// ReadAggregatedWindows returns one aggregation row per tourist with
	// enough events in the current feature window.
	ReadAggregatedWindows(ctx context.Context) ([]safety.AggregatedWindow, error)

	// ReadRecentEvents returns one tourist's events within the lookback
	// window, ascending by timestamp.
	ReadRecentEvents(ctx context.Context, touristID string, window time.Duration) ([]safety.Event, error)

	// ReadSafeTrainingEvents returns SAFE-simulation events from the last
	// days days, ascending by timestamp, capped at limit rows.
	ReadSafeTrainingEvents(ctx context.Context, days, limit int) ([]safety.Event, error)

	// WriteIncidentAlert inserts one alert row, assigning an id if absent.
	WriteIncidentAlert(ctx context.Context, alert *safety.IncidentAlert) error

	// AcknowledgeAlert marks an alert acknowledged by an officer.
	AcknowledgeAlert(ctx context.Context, alertID, officerID string) error

	// ResolveAlert marks an alert resolved.
	ResolveAlert(ctx context.Context, alertID string) error

	// Close releases the underlying connection.
	Close() error
}
