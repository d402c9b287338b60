package database

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance.agent/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.Config{DBUser: "agent", DBPassword: "p@ss/word", DBHost: "db", DBPort: "5432", DBName: "attendance_db"})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/attendance_db", u.Path)
	assert.Equal(t, "agent", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss/word", pw, "credentials are escaped")
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, applicationName, u.Query().Get("application_name"))
}
