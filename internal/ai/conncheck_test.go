package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
)

func setupConnCheckRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Del(context.Background(), connCacheKey).Err())
	return client
}

func connCheckConfig(baseURL string) *config.Config {
	return &config.Config{
		AIBaseURL:      baseURL,
		AIApiKey:       "test-key",
		AIModel:        "gemini-2.0-flash",
		AIConnCacheTTL: time.Minute,
	}
}

func TestConnectionChecker_Check_ProbeAndCache(t *testing.T) {
	rdb := setupConnCheckRedis(t)
	probes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name": "models/gemini-2.0-flash"}`))
	}))
	defer server.Close()

	checker := NewConnectionChecker(connCheckConfig(server.URL), rdb)
	ctx := context.Background()

	ok, err := checker.Check(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, probes)

	// Second check is answered from the cache.
	ok, err = checker.Check(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, probes)

	cached, err := rdb.Get(ctx, connCacheKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", cached)
}

func TestConnectionChecker_Check_FailureCached(t *testing.T) {
	rdb := setupConnCheckRedis(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	checker := NewConnectionChecker(connCheckConfig(server.URL), rdb)
	ctx := context.Background()

	ok, err := checker.Check(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)

	cached, err := rdb.Get(ctx, connCacheKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "fail", cached)

	// Unreachable backend is a clean false, not an error.
	server.Close()
	require.NoError(t, rdb.Del(ctx, connCacheKey).Err())
	ok, err = checker.Check(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
}
