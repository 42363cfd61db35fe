package bootstrap

import (
	"context"
	"testing"

	"postsync/internal/config"
	"postsync/internal/models"
	"postsync/internal/notifications"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(transport string) *config.Config {
	return &config.Config{
		Env:                      "test",
		LogLevel:                 "error",
		DBDriver:                 config.DriverSQLite,
		DBSQLitePath:             ":memory:",
		DBConnMaxLifetimeMinutes: 5,
		PushTransport:            transport,
		FeedQueryTimeoutSeconds:  5,
		SubmitTimeoutSeconds:     5,
		MaxSessions:              10,
	}
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestNew_LocalTransport(t *testing.T) {
	app := newApp(t, testConfig(config.TransportLocal))

	assert.Equal(t, "local", app.Store.Transport())
	assert.Nil(t, app.Redis)

	ctx := context.Background()
	_, err := app.Store.Insert(ctx, models.NewPost{UserID: "u1", Content: "hi"})
	require.NoError(t, err)
	posts, err := app.Store.Query(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestNew_NoTransport(t *testing.T) {
	app := newApp(t, testConfig(config.TransportNone))

	assert.Nil(t, app.Feed)
	assert.Equal(t, "none", app.Store.Transport())
}

func TestNew_RedisTransport(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(config.TransportRedis)
	cfg.RedisURL = "redis://" + mr.Addr()

	app := newApp(t, cfg)
	require.NotNil(t, app.Redis)
	assert.Equal(t, "redis", app.Store.Transport())

	checks := app.HealthChecks()
	require.Contains(t, checks, "redis")
	assert.NoError(t, checks["redis"](context.Background()))
	assert.NoError(t, checks["database"](context.Background()))
}

func TestNew_UnreachableRedisDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(config.TransportRedis)
	cfg.RedisURL = addr

	app := newApp(t, cfg)
	assert.Nil(t, app.Feed)
	assert.Nil(t, app.Redis)
	assert.Equal(t, "none", app.Store.Transport())
	assert.NotContains(t, app.HealthChecks(), "redis")
}

func TestNewChangeFeed(t *testing.T) {
	feed, rdb, err := NewChangeFeed(context.Background(), testConfig(config.TransportLocal))
	require.NoError(t, err)
	assert.Nil(t, rdb)
	assert.IsType(t, &notifications.LocalFeed{}, feed)

	feed, _, err = NewChangeFeed(context.Background(), testConfig(config.TransportNone))
	require.NoError(t, err)
	assert.Nil(t, feed)

	_, _, err = NewChangeFeed(context.Background(), testConfig("carrier-pigeon"))
	assert.Error(t, err)

	cfg := testConfig(config.TransportMQTT)
	_, _, err = NewChangeFeed(context.Background(), cfg)
	assert.Error(t, err, "a broker is required")
}

func TestRegistry_OpensSessions(t *testing.T) {
	app := newApp(t, testConfig(config.TransportLocal))
	reg := app.Registry()
	t.Cleanup(reg.CloseAll)

	s, err := reg.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.OwnerID())
	assert.Error(t, s.Draft().PickImage(context.Background()))
}
