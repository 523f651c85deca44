package db

import (
	"io/fs"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payloadbench/apiserver/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db.local",
		Port:     5433,
		User:     "bench",
		Password: "p@ss word",
		DBName:   "payloadbench_db",
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.local:5433", u.Host)
	assert.Equal(t, "/payloadbench_db", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))

	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pass)

	u, err = url.Parse(DSN(config.DatabaseConfig{Host: "h", Port: 1, UseSSL: true}))
	require.NoError(t, err)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations, "migrations/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestMigrateDownRejectsNonPositiveSteps(t *testing.T) {
	assert.Error(t, MigrateDown("postgres://localhost/none", "", 0))
}
