// Package catalog keeps the list of model identifiers offered to clients.
//
//nolint:gocritic // rangeValCopy is acceptable for catwalk types.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
)

// FetchFunc returns the provider catalog.
type FetchFunc func() ([]catwalk.Provider, error)

// Option configures a Catalog.
type Option func(*Catalog)

// WithCatwalkURL enables refreshing from the catwalk service at url.
func WithCatwalkURL(url string) Option {
	return func(c *Catalog) {
		if url == "" {
			return
		}
		c.fetch = func() ([]catwalk.Provider, error) {
			return catwalk.NewWithURL(url).GetProviders()
		}
	}
}

// WithFetcher sets the provider source directly.
func WithFetcher(fetch FetchFunc) Option {
	return func(c *Catalog) {
		c.fetch = fetch
	}
}

// WithCacheDir stores the last successful refresh under dir so a restart
// without network still serves it.
func WithCacheDir(dir string) Option {
	return func(c *Catalog) {
		c.cachePath = filepath.Join(dir, "models.json")
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// Catalog is a concurrency-safe model list. The configured models always
// come first, in configured order.
type Catalog struct {
	mu         sync.RWMutex
	configured []string
	models     []string

	fetch     FetchFunc
	cachePath string
	logger    *slog.Logger
}

// New creates a catalog seeded with the configured models.
func New(models []string, opts ...Option) *Catalog {
	c := &Catalog{
		configured: dedupe(models),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.models = c.configured
	return c
}

// Models returns a copy of the current model list.
func (c *Catalog) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.models)
}

// Contains reports whether id is in the list.
func (c *Catalog) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.models, id)
}

// Refresh pulls OpenRouter models from the provider source and appends the
// ones not already configured. Without a source it does nothing. When the
// fetch fails the cached list, if any, is used and the fetch error returned.
func (c *Catalog) Refresh() error {
	if c.fetch == nil {
		return nil
	}

	providers, err := c.fetch()
	if err != nil {
		if cached, cacheErr := c.loadCache(); cacheErr == nil {
			c.set(cached)
			c.logger.Warn("model catalog refresh failed, using cache", "error", err, "models", len(cached))
		}
		return fmt.Errorf("fetching provider catalog: %w", err)
	}

	remote := openRouterModels(providers)
	c.set(remote)
	if err := c.saveCache(remote); err != nil {
		// Cache write failure is non-fatal.
		c.logger.Warn("writing model cache", "error", err)
	}
	c.logger.Info("model catalog refreshed", "remote", len(remote), "total", len(c.Models()))
	return nil
}

func (c *Catalog) set(remote []string) {
	merged := slices.Clone(c.configured)
	for _, id := range remote {
		if !slices.Contains(merged, id) {
			merged = append(merged, id)
		}
	}

	c.mu.Lock()
	c.models = merged
	c.mu.Unlock()
}

func openRouterModels(providers []catwalk.Provider) []string {
	var ids []string
	for _, p := range providers {
		if p.Type != catwalk.TypeOpenRouter {
			continue
		}
		for _, m := range p.Models {
			if m.ID != "" {
				ids = append(ids, m.ID)
			}
		}
	}
	return dedupe(ids)
}

func (c *Catalog) loadCache() ([]string, error) {
	if c.cachePath == "" {
		return nil, fs.ErrNotExist
	}
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decoding model cache: %w", err)
	}
	return ids, nil
}

func (c *Catalog) saveCache(ids []string) error {
	if c.cachePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return os.WriteFile(c.cachePath, data, 0o600)
}

// LoadCache seeds the catalog from a previous refresh without touching
// the network. A missing cache is not an error.
func (c *Catalog) LoadCache() error {
	ids, err := c.loadCache()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	c.set(ids)
	return nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
