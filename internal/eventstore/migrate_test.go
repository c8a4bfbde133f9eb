package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safetrail-data/sentinel.report/internal/safety"
)

const migrationsDir = "../../db/migrations"

func TestMigrateUpAndVersion(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.MigrateUp(migrationsDir))

	version, dirty, err := db.MigrateVersion(migrationsDir)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)

	// Idempotent: a second up is a no-op.
	require.NoError(t, db.MigrateUp(migrationsDir))

	// The migrated schema accepts writes.
	require.NoError(t, db.WriteEvent(context.Background(), &safety.Event{
		TouristID: "t1",
		Timestamp: time.Now().UTC(),
		ZoneState: safety.ZoneSafe,
		EventType: safety.EventMove,
	}))
}

func TestMigrateDown(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.MigrateUp(migrationsDir))
	require.NoError(t, db.MigrateDown(migrationsDir))

	version, dirty, err := db.MigrateVersion(migrationsDir)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(0), version)
}
