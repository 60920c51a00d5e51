package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
)

const connCacheKey = "ai:conn"

// connectionChecker probes the generation API with a cheap model-metadata
// request and caches the verdict in redis so the check does not run on every
// session open.
type connectionChecker struct {
	baseURL    string
	apiKey     string
	model      string
	cacheTTL   time.Duration
	rdb        *redis.Client
	httpClient *http.Client
}

// NewConnectionChecker creates a redis-cached ConnectionChecker.
func NewConnectionChecker(cfg *config.Config, rdb *redis.Client) ConnectionChecker {
	return &connectionChecker{
		baseURL:    cfg.AIBaseURL,
		apiKey:     cfg.AIApiKey,
		model:      cfg.AIModel,
		cacheTTL:   cfg.AIConnCacheTTL,
		rdb:        rdb,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *connectionChecker) Check(ctx context.Context) (bool, error) {
	cached, err := c.rdb.Get(ctx, connCacheKey).Result()
	if err == nil {
		return cached == "ok", nil
	}
	if !errors.Is(err, redis.Nil) {
		// Redis trouble should not block the probe itself.
		log.Printf("WARN: failed to read AI connectivity cache: %v", err)
	}

	ok := c.probe(ctx)

	value := "ok"
	if !ok {
		value = "fail"
	}
	if setErr := c.rdb.Set(ctx, connCacheKey, value, c.cacheTTL).Err(); setErr != nil {
		log.Printf("WARN: failed to cache AI connectivity result: %v", setErr)
	}
	return ok, nil
}

func (c *connectionChecker) probe(ctx context.Context) bool {
	url := fmt.Sprintf("%s/models/%s?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("WARN: AI connectivity probe failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("WARN: AI connectivity probe returned status %d", resp.StatusCode)
		return false
	}
	return true
}
