package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionConfig_WithDefaults(t *testing.T) {
	config := ConnectionConfig{URL: "postgres://localhost/authcheck"}.withDefaults()

	assert.Equal(t, 20, config.MaxConns)
	assert.Equal(t, 2, config.MinConns)
	assert.Equal(t, 5*time.Second, config.Timeout)
	assert.Equal(t, time.Hour, config.MaxLifetime)
	assert.Equal(t, 10*time.Minute, config.MaxIdleTime)

	custom := ConnectionConfig{MaxConns: 5, MinConns: 1, Timeout: time.Second}.withDefaults()
	assert.Equal(t, 5, custom.MaxConns)
	assert.Equal(t, 1, custom.MinConns)
	assert.Equal(t, time.Second, custom.Timeout)
}

func TestOpen_RequiresURL(t *testing.T) {
	_, err := Open(context.Background(), ConnectionConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestConfigurePool(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	configurePool(db, ConnectionConfig{MaxConns: 7}.withDefaults())
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
}
