package postgres

import (
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))

	dsn := DSN(ClientConfig{Host: "db", User: "sim", Password: "p@ss/word", Database: "tradesim"})
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/tradesim", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss/word", pw)
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}

func TestBuildListQuery(t *testing.T) {
	q, args := buildListQuery(domain.ListOpts{})
	assert.Equal(t, "SELECT "+metricsSelectCols+" FROM metrics_history WHERE TRUE ORDER BY created_at DESC, id DESC", q)
	assert.Empty(t, args)

	since := time.Unix(100, 0)
	q, args = buildListQuery(domain.ListOpts{Since: &since, Limit: 50, Offset: 10})
	assert.Contains(t, q, "created_at >= $1")
	assert.Contains(t, q, "LIMIT $2")
	assert.Contains(t, q, "OFFSET $3")
	assert.Equal(t, []any{since, 50, 10}, args)
}

func TestMinLatencyParam(t *testing.T) {
	assert.Nil(t, minLatencyParam(domain.PerformanceStats{MinLatencyMs: math.Inf(1)}))
	v := minLatencyParam(domain.PerformanceStats{MinLatencyMs: 1.5})
	require.NotNil(t, v)
	assert.Equal(t, 1.5, *v)
}
