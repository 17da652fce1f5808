package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/bobuk/calblock/internal/logging"
)

// TokenStore persists OAuth tokens per account.
type TokenStore interface {
	Save(ctx context.Context, account string, token *oauth2.Token) error
	Get(ctx context.Context, account string) (*oauth2.Token, error)
}

// OAuthConfig returns the installed-app OAuth configuration for the
// Google Calendar scope.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{calendar.CalendarScope},
	}
}

// NewGoogleHTTPClient builds an HTTP client for account using the stored
// token. Refreshed tokens are written back to the store.
func NewGoogleHTTPClient(ctx context.Context, conf *oauth2.Config, store TokenStore, account string, logger *slog.Logger) (*http.Client, error) {
	token, err := store.Get(ctx, account)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("account %s: %w", account, ErrNoToken)
	}

	src := &persistingTokenSource{
		ctx:     context.WithoutCancel(ctx),
		base:    conf.TokenSource(ctx, token),
		store:   store,
		account: account,
		last:    token,
		logger:  logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)), nil
}

// persistingTokenSource saves every token that differs from the last one seen.
type persistingTokenSource struct {
	ctx     context.Context
	base    oauth2.TokenSource
	store   TokenStore
	account string
	logger  *slog.Logger

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w", s.account, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || token.AccessToken != s.last.AccessToken {
		if err := s.store.Save(s.ctx, s.account, token); err != nil {
			s.logger.Warn("refreshed token not saved", slog.String("account", s.account), logging.Err(err))
		} else {
			s.logger.Debug("token refreshed", slog.String("account", s.account))
		}
		s.last = token
	}
	return token, nil
}
