package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/safetrail-data/sentinel.report/internal/features"
	"github.com/safetrail-data/sentinel.report/internal/safety"
)

// timestampLayout is the canonical stored form. All timestamps are UTC, so
// lexicographic comparison in SQL matches chronological order.
const timestampLayout = time.RFC3339Nano

// DB is the SQLite-backed Event Store.
type DB struct {
	*sql.DB

	// AggregationWindow is the lookback for ReadAggregatedWindows.
	AggregationWindow time.Duration

	// MinEventsPerWindow is the row-count floor below which a tourist is
	// not considered active.
	MinEventsPerWindow int
}

// NewDB opens (or creates) the event store at path and bootstraps the
// schema. Use ":memory:" for tests.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway, and a ":memory:"
	// database exists per connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tourist_events (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			tourist_id        TEXT NOT NULL,
			timestamp         TEXT NOT NULL,
			zone_state        TEXT,
			event_type        TEXT,
			risk_timer_value  DOUBLE DEFAULT 0,
			latitude          DOUBLE,
			longitude         DOUBLE,
			simulation_mode   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_tourist_time
			ON tourist_events(tourist_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_events_mode_time
			ON tourist_events(simulation_mode, timestamp);
		CREATE TABLE IF NOT EXISTS incident_alerts (
			id                TEXT PRIMARY KEY,
			tourist_id        TEXT NOT NULL,
			timestamp         TEXT NOT NULL,
			rule_score        DOUBLE,
			anomaly_score     DOUBLE,
			hybrid_score      DOUBLE,
			severity          TEXT,
			triggered_rules   TEXT,
			feature_vector    TEXT,
			latitude          DOUBLE,
			longitude         DOUBLE,
			zone_state        TEXT,
			model_version     TEXT,
			acknowledged      INTEGER DEFAULT 0,
			acknowledged_by   TEXT,
			acknowledged_at   TEXT,
			resolved          INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_tourist_time
			ON incident_alerts(tourist_id, timestamp);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{
		DB:                 db,
		AggregationWindow:  2 * time.Minute,
		MinEventsPerWindow: 3,
	}, nil
}

// WriteEvent inserts one tourist event. Used by the ingest surface and by
// fixtures; the detection pipeline itself only reads.
func (db *DB) WriteEvent(ctx context.Context, e *safety.Event) error {
	if e.TouristID == "" {
		return fmt.Errorf("event is missing tourist_id")
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO tourist_events (
			tourist_id, timestamp, zone_state, event_type,
			risk_timer_value, latitude, longitude, simulation_mode
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TouristID, e.Timestamp.UTC().Format(timestampLayout), e.ZoneState, e.EventType,
		e.RiskTimerValue, e.Latitude, e.Longitude, e.SimulationMode,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tourist event: %w", err)
	}
	return nil
}

// ReadAggregatedWindows aggregates the last AggregationWindow of events per
// tourist and returns one row per tourist with at least MinEventsPerWindow
// events. latest_zone_state and the latest position come from the most
// recent event in the window.
func (db *DB) ReadAggregatedWindows(ctx context.Context) ([]safety.AggregatedWindow, error) {
	since := time.Now().UTC().Add(-db.AggregationWindow).Format(timestampLayout)
	events, err := db.queryEvents(ctx,
		`SELECT tourist_id, timestamp, zone_state, event_type,
			risk_timer_value, latitude, longitude, simulation_mode
		 FROM tourist_events WHERE timestamp >= ? ORDER BY timestamp ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregation window: %w", err)
	}

	groups := make(map[string][]safety.Event)
	for _, e := range events {
		groups[e.TouristID] = append(groups[e.TouristID], e)
	}

	ids := make([]string, 0, len(groups))
	for id, g := range groups {
		if len(g) >= db.MinEventsPerWindow {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	rows := make([]safety.AggregatedWindow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, features.Aggregate(groups[id]))
	}
	return rows, nil
}

// ReadRecentEvents returns one tourist's events within the lookback window,
// ascending by timestamp.
func (db *DB) ReadRecentEvents(ctx context.Context, touristID string, window time.Duration) ([]safety.Event, error) {
	since := time.Now().UTC().Add(-window).Format(timestampLayout)
	events, err := db.queryEvents(ctx,
		`SELECT tourist_id, timestamp, zone_state, event_type,
			risk_timer_value, latitude, longitude, simulation_mode
		 FROM tourist_events
		 WHERE tourist_id = ? AND timestamp >= ?
		 ORDER BY timestamp ASC`, touristID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for tourist %s: %w", touristID, err)
	}
	return events, nil
}

// ReadSafeTrainingEvents returns SAFE-simulation events from the last days
// days, capped at limit rows, ascending by timestamp.
func (db *DB) ReadSafeTrainingEvents(ctx context.Context, days, limit int) ([]safety.Event, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(timestampLayout)
	events, err := db.queryEvents(ctx,
		`SELECT tourist_id, timestamp, zone_state, event_type,
			risk_timer_value, latitude, longitude, simulation_mode
		 FROM tourist_events
		 WHERE simulation_mode = ? AND timestamp >= ?
		 ORDER BY timestamp ASC LIMIT ?`,
		safety.SimulationModeSafe, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query training events: %w", err)
	}
	return events, nil
}

// queryEvents scans event rows, skipping any with an unparseable timestamp
// rather than failing the whole read.
func (db *DB) queryEvents(ctx context.Context, query string, args ...any) ([]safety.Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []safety.Event
	for rows.Next() {
		var (
			e        safety.Event
			ts       string
			zone     sql.NullString
			etype    sql.NullString
			mode     sql.NullString
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(&e.TouristID, &ts, &zone, &etype, &e.RiskTimerValue, &lat, &lng, &mode); err != nil {
			return nil, err
		}
		parsed, err := safety.ParseTimestamp(ts)
		if err != nil {
			log.Printf("skipping event for tourist %s: %v", e.TouristID, err)
			continue
		}
		e.Timestamp = parsed
		e.ZoneState = zone.String
		e.EventType = etype.String
		e.SimulationMode = mode.String
		if lat.Valid {
			v := lat.Float64
			e.Latitude = &v
		}
		if lng.Valid {
			v := lng.Float64
			e.Longitude = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// WriteIncidentAlert inserts one alert row. A missing id is assigned a
// fresh UUID and written back to the alert.
func (db *DB) WriteIncidentAlert(ctx context.Context, alert *safety.IncidentAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	rulesJSON, err := json.Marshal(alert.TriggeredRules)
	if err != nil {
		return fmt.Errorf("failed to encode triggered rules: %w", err)
	}
	featuresJSON, err := json.Marshal(alert.FeatureVector)
	if err != nil {
		return fmt.Errorf("failed to encode feature vector: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO incident_alerts (
			id, tourist_id, timestamp, rule_score, anomaly_score, hybrid_score,
			severity, triggered_rules, feature_vector,
			latitude, longitude, zone_state, model_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.TouristID, alert.Timestamp.UTC().Format(timestampLayout),
		alert.RuleScore, alert.AnomalyScore, alert.HybridScore,
		alert.Severity, string(rulesJSON), string(featuresJSON),
		alert.Latitude, alert.Longitude, alert.ZoneState, alert.ModelVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert incident alert: %w", err)
	}
	return nil
}

// AcknowledgeAlert marks an alert acknowledged by the given officer.
func (db *DB) AcknowledgeAlert(ctx context.Context, alertID, officerID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE incident_alerts
		 SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		 WHERE id = ?`,
		officerID, time.Now().UTC().Format(timestampLayout), alertID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", alertID, err)
	}
	return requireRow(res, alertID)
}

// ResolveAlert marks an alert resolved.
func (db *DB) ResolveAlert(ctx context.Context, alertID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE incident_alerts SET resolved = 1 WHERE id = ?`, alertID)
	if err != nil {
		return fmt.Errorf("failed to resolve alert %s: %w", alertID, err)
	}
	return requireRow(res, alertID)
}

func requireRow(res sql.Result, alertID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no alert with id %s", alertID)
	}
	return nil
}

// AlertSummary is one severity bucket per day, used by report tooling.
type AlertSummary struct {
	Day      string `json:"day"`
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

// AlertCountsByDay returns alert counts bucketed by day and severity over
// the last days days, oldest first.
func (db *DB) AlertCountsByDay(ctx context.Context, days int) ([]AlertSummary, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(timestampLayout)
	rows, err := db.QueryContext(ctx,
		`SELECT substr(timestamp, 1, 10) AS day, severity, COUNT(*)
		 FROM incident_alerts WHERE timestamp >= ?
		 GROUP BY day, severity ORDER BY day ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert counts: %w", err)
	}
	defer rows.Close()

	var out []AlertSummary
	for rows.Next() {
		var s AlertSummary
		if err := rows.Scan(&s.Day, &s.Severity, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
