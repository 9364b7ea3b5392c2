// Package file provides file-based configuration with hot-reload.
package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/pkg/config"
)

const defaultDebounce = 50 * time.Millisecond

// Provider implements ports.ConfigProvider over a YAML file. It watches the
// file's directory, so editors and deploy tools that swap the file by
// rename are noticed as well as in-place writes.
type Provider struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	current *config.Config
	digest  []byte
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// NewProvider creates a file-based config provider for path.
func NewProvider(path string, opts ...Option) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}

	p := &Provider{
		path:     path,
		debounce: defaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Current returns the most recently loaded configuration, or nil before Load.
func (p *Provider) Current() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Load reads the file. A missing file yields defaults plus environment overrides.
func (p *Provider) Load(ctx context.Context) (*config.Config, error) {
	cfg, digest, err := p.read()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.current, p.digest = cfg, digest
	p.mu.Unlock()

	p.logger.Info("config loaded", slog.String("path", p.path))
	return cfg, nil
}

func (p *Provider) read() (*config.Config, []byte, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("read config %s: %w", p.path, err)
	}
	cfg, err := config.LoadFile(p.path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config from %s: %w", p.path, err)
	}
	sum := sha256.Sum256(raw)
	return cfg, sum[:], nil
}

// Watch calls onChange after the file's content changes, until ctx is done.
// It returns once watching has started.
func (p *Provider) Watch(ctx context.Context, onChange func(*config.Config)) error {
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("watch %s: %w", p.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	p.logger.Info("watching config file for changes", slog.String("path", p.path))
	go p.watchLoop(ctx, watcher, onChange)
	return nil
}

func (p *Provider) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(*config.Config)) {
	defer watcher.Close()

	name := filepath.Base(p.path)
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("config watch stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			settle = time.After(p.debounce)

		case <-settle:
			settle = nil
			p.reload(onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watch error", slog.String("error", err.Error()))
		}
	}
}

func (p *Provider) reload(onChange func(*config.Config)) {
	cfg, digest, err := p.read()
	if err != nil {
		p.logger.Error("failed to reload config",
			slog.String("error", err.Error()),
			slog.String("path", p.path))
		return
	}

	p.mu.Lock()
	if bytes.Equal(digest, p.digest) {
		p.mu.Unlock()
		return
	}
	p.current, p.digest = cfg, digest
	p.mu.Unlock()

	p.logger.Info("config file changed", slog.String("path", p.path))
	onChange(cfg)
}

// Close stops watching the config file.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

var _ ports.ConfigProvider = (*Provider)(nil)
