package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/bobuk/calblock/internal/config"
	"github.com/bobuk/calblock/internal/model"
)

// Factory hands out the Provider for each calendar. Remote backends are
// created once per Google account or CalDAV server and shared by every
// calendar that uses them.
type Factory struct {
	store   EventStore
	tokens  TokenStore
	oauth   *oauth2.Config
	servers map[string]config.CalDAVServer
	timeout time.Duration
	logger  *slog.Logger

	local *LocalProvider

	mu       sync.Mutex
	backends map[string]RemoteCalendar
	dial     func(ctx context.Context, cal model.Calendar) (RemoteCalendar, error)
}

// FactoryOption customises a Factory.
type FactoryOption func(*Factory)

// WithRemoteBackend makes every calendar of kind use backend instead of
// dialing the real service.
func WithRemoteBackend(kind model.Kind, backend RemoteCalendar) FactoryOption {
	return func(f *Factory) {
		next := f.dial
		f.dial = func(ctx context.Context, cal model.Calendar) (RemoteCalendar, error) {
			if cal.Kind == kind {
				return backend, nil
			}
			return next(ctx, cal)
		}
	}
}

// WithTimeout sets the per-call timeout for remote providers.
func WithTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) { f.timeout = d }
}

// WithLogger sets the logger remote providers write to.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// NewFactory creates a factory. cfg supplies Google OAuth credentials and
// the CalDAV server list; tokens may be nil when no Google calendars are used.
func NewFactory(cfg *config.Config, store EventStore, tokens TokenStore, opts ...FactoryOption) *Factory {
	f := &Factory{
		store:    store,
		tokens:   tokens,
		servers:  cfg.CalDAVs,
		timeout:  cfg.Blocking.ProviderTimeout.Duration,
		logger:   slog.Default(),
		local:    NewLocalProvider(store),
		backends: make(map[string]RemoteCalendar),
	}
	if cfg.HasGoogle() {
		f.oauth = OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
	}
	f.dial = f.dialBackend
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OAuth returns the Google OAuth configuration, or nil when none is configured.
func (f *Factory) OAuth() *oauth2.Config {
	return f.oauth
}

// For returns the provider serving cal.
func (f *Factory) For(ctx context.Context, cal model.Calendar) (Provider, error) {
	if !cal.Kind.IsRemote() {
		return f.local, nil
	}
	backend, err := f.backend(ctx, cal)
	if err != nil {
		return nil, err
	}
	return NewRemoteProvider(cal, backend, f.store, f.timeout, f.logger), nil
}

// ValidateCalendarAccess checks that a remote calendar exists and is reachable
// before it is registered. Local calendars always pass.
func (f *Factory) ValidateCalendarAccess(ctx context.Context, cal model.Calendar) error {
	if !cal.Kind.IsRemote() {
		return nil
	}
	backend, err := f.backend(ctx, cal)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := backend.GetCalendar(callCtx, cal.RemoteID); err != nil {
		return Classify(string(cal.Kind), cal.ID, err)
	}
	return nil
}

func backendKey(cal model.Calendar) string {
	return string(cal.Kind) + "-" + cal.ProviderConfig
}

func (f *Factory) backend(ctx context.Context, cal model.Calendar) (RemoteCalendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := backendKey(cal)
	if b, ok := f.backends[key]; ok {
		return b, nil
	}
	b, err := f.dial(ctx, cal)
	if err != nil {
		return nil, Classify(string(cal.Kind), cal.ID, err)
	}
	f.backends[key] = b
	return b, nil
}

func (f *Factory) dialBackend(ctx context.Context, cal model.Calendar) (RemoteCalendar, error) {
	switch cal.Kind {
	case model.KindGoogle:
		if f.oauth == nil {
			return nil, fmt.Errorf("google client_id and client_secret are not configured")
		}
		if f.tokens == nil {
			return nil, fmt.Errorf("account %s: %w", cal.ProviderConfig, ErrNoToken)
		}
		client, err := NewGoogleHTTPClient(ctx, f.oauth, f.tokens, cal.ProviderConfig, f.logger)
		if err != nil {
			return nil, err
		}
		return NewGoogleCalendar(ctx, client)

	case model.KindCalDAV:
		server, ok := f.servers[cal.ProviderConfig]
		if !ok {
			return nil, fmt.Errorf("CalDAV server '%s' not found in configuration", cal.ProviderConfig)
		}
		return NewCalDAVCalendar(ctx, server.ServerURL, server.Username, server.Password)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cal.Kind)
	}
}
