package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/usersync/pkg/observability"
	"github.com/platinummonkey/usersync/pkg/storage"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single URL", input: "postgres://localhost:5432/db", expected: []string{"postgres://localhost:5432/db"}},
		{
			name:     "URLs with whitespace",
			input:    " postgres://host1:5432/db , postgres://host2:5432/db ",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{
			name:     "URLs with empty entries",
			input:    "postgres://host1:5432/db,,postgres://host2:5432/db,",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{name: "only commas and whitespace", input: " , , , ", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

func TestNewConnectionManager_InvalidConfig(t *testing.T) {
	_, err := NewConnectionManager(storage.DefaultConfig(), nil)
	assert.ErrorContains(t, err, "DSN is required")
}

func TestNewConnectionManager_SQLite(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DriverSQLite
	cfg.DSN = ":memory:"

	cm, err := NewConnectionManager(cfg, nil)
	require.NoError(t, err)
	defer cm.Close()

	assert.Equal(t, storage.DriverSQLite, cm.Driver())
	assert.Same(t, cm.Primary(), cm.Replica())
	assert.Equal(t, 1, cm.Primary().Stats().MaxOpenConnections)
	assert.NoError(t, cm.HealthCheck(context.Background()))
}

func TestConnectionManager_ReplicaRoundRobin(t *testing.T) {
	primary, _ := newPingMock(t)
	r1, _ := newPingMock(t)
	r2, _ := newPingMock(t)

	cm := NewConnectionManagerFromDB(primary, storage.Config{Driver: storage.DriverPostgres}, nil)
	assert.Same(t, primary, cm.Replica())

	cm.replicas = []*sql.DB{r1, r2}
	seen := map[*sql.DB]int{}
	for i := 0; i < 10; i++ {
		seen[cm.Replica()]++
	}
	assert.Equal(t, 5, seen[r1])
	assert.Equal(t, 5, seen[r2])
	assert.Zero(t, seen[primary])
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	t.Run("primary down", func(t *testing.T) {
		primary, mock := newPingMock(t)
		mock.ExpectPing().WillReturnError(errors.New("refused"))

		cm := NewConnectionManagerFromDB(primary, storage.Config{}, nil)
		assert.ErrorContains(t, cm.HealthCheck(context.Background()), "primary unhealthy")
	})

	t.Run("one replica down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		r1, m1 := newPingMock(t)
		r2, m2 := newPingMock(t)
		pm.ExpectPing()
		m1.ExpectPing().WillReturnError(errors.New("refused"))
		m2.ExpectPing()

		cm := NewConnectionManagerFromDB(primary, storage.Config{}, nil)
		cm.replicas = []*sql.DB{r1, r2}
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		r1, m1 := newPingMock(t)
		pm.ExpectPing()
		m1.ExpectPing().WillReturnError(errors.New("refused"))

		cm := NewConnectionManagerFromDB(primary, storage.Config{}, nil)
		cm.replicas = []*sql.DB{r1}
		assert.ErrorContains(t, cm.HealthCheck(context.Background()), "all replicas unhealthy: replica-0")
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := newPingMock(t)
	good, gm := newPingMock(t)
	bad, bm := newPingMock(t)
	gm.ExpectPing()
	bm.ExpectPing().WillReturnError(errors.New("gone"))
	bm.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, storage.Config{}, nil)
	cm.replicas = []*sql.DB{good, bad}

	assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
	assert.Equal(t, []*sql.DB{good}, cm.replicas)
	assert.NoError(t, bm.ExpectationsWereMet())
}

func TestConnectionManager_Close(t *testing.T) {
	primary, pm := newPingMock(t)
	replica, rm := newPingMock(t)
	pm.ExpectClose()
	rm.ExpectClose().WillReturnError(errors.New("stuck"))

	cm := NewConnectionManagerFromDB(primary, storage.Config{}, nil)
	cm.replicas = []*sql.DB{replica}

	err := cm.Close()
	assert.ErrorContains(t, err, "replica-0 close error")
	assert.Nil(t, cm.replicas)
	assert.NoError(t, pm.ExpectationsWereMet())
}

func TestConnectionManager_RecordStats(t *testing.T) {
	primary, _ := newPingMock(t)
	cm := NewConnectionManagerFromDB(primary, storage.Config{}, nil)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	metrics.DBConnectionsActive.Set(42)
	cm.RecordStats(metrics)

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.DBConnectionsActive))
	cm.RecordStats(nil)
}
