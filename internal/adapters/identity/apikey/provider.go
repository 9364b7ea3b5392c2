// Package apikey provides API key-based identity resolution.
package apikey

import (
	"context"
	"fmt"
	"sync"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/pkg/auth"
	"github.com/tjfontaine/tradeflow/internal/pkg/config"
)

// Provider implements ports.IdentityResolver using the users section of the config.
type Provider struct {
	mu            sync.RWMutex
	authenticator *auth.Authenticator
	users         int
}

// NewProvider creates a new API key identity provider.
func NewProvider(configProvider ports.ConfigProvider) (*Provider, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("config provider required")
	}

	cfg, err := configProvider.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	p := &Provider{}
	p.ReloadFromConfig(cfg)
	return p, nil
}

// NewStaticProvider creates a provider over a fixed user list.
func NewStaticProvider(users []config.UserConfig) *Provider {
	p := &Provider{}
	p.ReloadFromConfig(&config.Config{Users: users})
	return p
}

// Resolve validates an API key and returns the calling user.
func (p *Provider) Resolve(ctx context.Context, token string) (*ports.Actor, error) {
	p.mu.RLock()
	authenticator := p.authenticator
	p.mu.RUnlock()

	user, err := authenticator.ValidateAPIKey(token)
	if err != nil {
		return nil, domain.ErrUnauthenticated(err.Error())
	}
	if user.ID == "" {
		return nil, domain.ErrUnauthenticated("API key is not bound to a user")
	}

	return &ports.Actor{UserID: user.ID, Name: user.Name}, nil
}

// Users returns how many users are currently known.
func (p *Provider) Users() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.users
}

// ReloadFromConfig replaces the known users.
// This is called by the engine when config changes.
func (p *Provider) ReloadFromConfig(cfg *config.Config) {
	authenticator := auth.NewAuthenticator(cfg.Users)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.authenticator = authenticator
	p.users = len(cfg.Users)
}
