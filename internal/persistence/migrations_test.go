package persistence

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"010_indexes.sql":     {Data: []byte("CREATE INDEX ...")},
		"001_init.sql":        {Data: []byte("CREATE TABLE ...")},
		"README.md":           {Data: []byte("notes")},
		"archive/000_old.sql": {Data: []byte("DROP TABLE ...")},
	}

	names, err := migrationFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "010_indexes.sql"}, names)
}

func TestNilPostgresIsSafe(t *testing.T) {
	var pg *Postgres
	assert.Nil(t, pg.Pool())
	assert.Error(t, pg.Ping(context.Background()))
	assert.Equal(t, PoolStats{}, pg.Stats())
	pg.Close()

	var r *Redis
	assert.False(t, r.Enabled())
	r.Close()
}
