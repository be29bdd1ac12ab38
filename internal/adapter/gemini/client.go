package gemini

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"policyrag/internal/settings"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

type SettingsSource interface {
	Effective(ctx context.Context) settings.Settings
}

// clientCache holds one genai client per API key. The key is read from the
// settings on every call, so a key rotated through the settings API takes
// effect without a restart.
type clientCache struct {
	settings   SettingsSource
	clientOpts []option.ClientOption

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

func (c *clientCache) get(ctx context.Context) (*genai.Client, error) {
	key := c.settings.Effective(ctx).GeminiAPIKey
	if key == "" {
		return nil, ErrNoAPIKey
	}

	c.mu.RLock()
	if c.client != nil && c.currentKey == key {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double check
	if c.client != nil && c.currentKey == key {
		return c.client, nil
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append([]option.ClientOption{}, c.clientOpts...)
	opts = append(opts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	c.client = client
	c.currentKey = key
	return client, nil
}

func (c *clientCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.currentKey = ""
	return err
}
