// Package state caches per-user lookups in Upstash Redis over its REST API.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

var ErrInvalidUser = errors.New("user id is empty")

const (
	defaultKeyPrefix     = "relay:user-tier:"
	defaultTTL           = 10 * time.Minute
	maxResponseSizeBytes = 2 << 20
)

// Option customizes TierCache.
type Option func(*TierCache)

func WithKeyPrefix(prefix string) Option {
	return func(c *TierCache) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			c.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *TierCache) {
		c.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *TierCache) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// TierCache is a read-through cache in front of a TierResolver. Redis
// failures degrade to the origin lookup.
type TierCache struct {
	origin contractx.TierResolver

	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ contractx.TierResolver = (*TierCache)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	TTL     time.Duration `envconfig:"TTL" split_words:"true" default:"10m"`
}

// Enabled reports whether a Redis endpoint is configured.
func (c UpstashRedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

func NewTierCache(cfg UpstashRedisConfig, origin contractx.TierResolver, opts ...Option) (*TierCache, error) {
	if origin == nil {
		return nil, errors.New("origin tier resolver is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}

	c := &TierCache{
		origin:     origin,
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultKeyPrefix,
		ttl:        ttl,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}

	return c, nil
}

func (c *TierCache) LookupUserTier(ctx context.Context, userID string) (string, error) {
	key, err := c.redisKey(userID)
	if err != nil {
		return "", err
	}

	if tier, ok := c.cached(ctx, key); ok {
		return tier, nil
	}

	tier, err := c.origin.LookupUserTier(ctx, userID)
	if err != nil {
		return "", err
	}

	cmd := []any{"SET", key, tier}
	if c.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(c.ttl))
	}
	if _, err := c.exec(ctx, cmd); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to cache user tier")
	}
	return tier, nil
}

// Invalidate drops the cached tier so the next lookup reads the origin.
func (c *TierCache) Invalidate(ctx context.Context, userID string) error {
	key, err := c.redisKey(userID)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, []any{"DEL", key})
	return err
}

func (c *TierCache) cached(ctx context.Context, key string) (string, bool) {
	resp, err := c.exec(ctx, []any{"GET", key})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("tier cache read failed")
		return "", false
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return "", false
	}

	var tier string
	if err := json.Unmarshal(result, &tier); err != nil || strings.TrimSpace(tier) == "" {
		return "", false
	}
	return tier, true
}

func (c *TierCache) redisKey(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidUser
	}
	return strings.TrimSpace(c.keyPrefix) + userID, nil
}

func (c *TierCache) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
