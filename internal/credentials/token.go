// Package credentials resolves the bearer credentials used by the batched
// HTTP delivery provider.
package credentials

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource hands out Authorization header values per application. An
// empty return value means no credential is currently available; the
// contract is deliberately error-free so callers can fail fast without
// untangling transport errors from "no token".
type TokenSource interface {
	GetAuthHeader(ctx context.Context, application string) string
}

// ClientCredentialsSource obtains tokens through the OAuth2 client
// credentials flow and caches them per application.
type ClientCredentialsSource struct {
	logger *zap.Logger

	mu      sync.Mutex
	configs map[string]*clientcredentials.Config
	sources map[string]oauth2.TokenSource
}

func NewClientCredentialsSource(logger *zap.Logger) *ClientCredentialsSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientCredentialsSource{
		logger:  logger,
		configs: make(map[string]*clientcredentials.Config),
		sources: make(map[string]oauth2.TokenSource),
	}
}

// Register associates an application with its token endpoint and client.
func (s *ClientCredentialsSource) Register(application string, tokenURL string, clientID string, clientSecret string, scopes []string) {
	app := normalizeApplication(application)
	if app == "" || strings.TrimSpace(tokenURL) == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[app] = &clientcredentials.Config{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
	}
	delete(s.sources, app)
}

func (s *ClientCredentialsSource) GetAuthHeader(ctx context.Context, application string) string {
	if s == nil {
		return ""
	}

	app := normalizeApplication(application)

	s.mu.Lock()
	source, ok := s.sources[app]
	if !ok {
		cfg, configured := s.configs[app]
		if !configured {
			s.mu.Unlock()
			return ""
		}
		source = cfg.TokenSource(context.Background())
		s.sources[app] = source
	}
	s.mu.Unlock()

	token, err := source.Token()
	if err != nil {
		s.logger.Warn("failed to obtain delivery token",
			zap.String("application", app),
			zap.Error(err),
		)
		return ""
	}
	if token == nil || token.AccessToken == "" {
		return ""
	}

	return "Bearer " + token.AccessToken
}

// StaticSource serves fixed header values; used in tests and for
// pre-provisioned credentials.
type StaticSource map[string]string

func (s StaticSource) GetAuthHeader(ctx context.Context, application string) string {
	return s[normalizeApplication(application)]
}

func normalizeApplication(application string) string {
	return strings.ToLower(strings.TrimSpace(application))
}
