package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_PoolOverrides(t *testing.T) {
	pc, err := Config{
		DSN:             "postgres://u:p@localhost:5432/notifyhub?pool_max_conns=4",
		MinConns:        2,
		MaxConnIdleTime: time.Minute,
	}.poolConfig()
	require.NoError(t, err)
	assert.EqualValues(t, 4, pc.MaxConns)
	assert.EqualValues(t, 2, pc.MinConns)
	assert.Equal(t, time.Minute, pc.MaxConnIdleTime)

	pc, err = Config{DSN: "postgres://u:p@localhost:5432/notifyhub", MaxConns: 16}.poolConfig()
	require.NoError(t, err)
	assert.EqualValues(t, 16, pc.MaxConns)

	_, err = Config{DSN: "postgres://%zz"}.poolConfig()
	assert.Error(t, err)
}
