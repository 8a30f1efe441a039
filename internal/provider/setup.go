package provider

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kursadbilgin/mail-courier/internal/config"
	"github.com/kursadbilgin/mail-courier/internal/credentials"
	"github.com/kursadbilgin/mail-courier/internal/observability"
	"github.com/kursadbilgin/mail-courier/internal/relay"
)

// NewRouterFromConfig wires the configured delivery providers and the
// per-application mapping that selects between them. A provider is only
// constructed when its backend is configured, so a deployment can run with
// the relay alone, the batch endpoint alone, or both.
func NewRouterFromConfig(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*Router, error) {
	mapping, err := cfg.ParseProviderMap()
	if err != nil {
		return nil, err
	}

	providers := make([]Provider, 0, 2)

	if strings.TrimSpace(cfg.RelayHost) != "" {
		factory := func() (relay.Conn, error) {
			return relay.NewClient(relay.Config{
				Host:             cfg.RelayHost,
				Port:             cfg.RelayPort,
				Username:         cfg.RelayUsername,
				Password:         cfg.RelayPassword,
				StalenessTimeout: cfg.RelayStalenessTimeout,
			})
		}

		pool, err := relay.NewPool(factory, cfg.RelayMaxConnections, cfg.RelayMaxAcquireTries, logger, metrics)
		if err != nil {
			return nil, err
		}

		smtpProvider, err := NewSMTPProvider(pool, cfg.RelayUsername, logger, metrics)
		if err != nil {
			return nil, err
		}
		providers = append(providers, smtpProvider)
	}

	if strings.TrimSpace(cfg.GraphEndpoint) != "" {
		accounts, err := cfg.ParseGraphAccountMap()
		if err != nil {
			return nil, err
		}

		tokens := credentials.NewClientCredentialsSource(logger)
		for application := range accounts {
			tokens.Register(application, cfg.GraphTokenURL, cfg.GraphClientID, cfg.GraphClientSecret, strings.Fields(cfg.GraphScope))
		}

		graphProvider, err := NewGraphProvider(
			cfg.GraphEndpoint,
			tokens,
			accounts,
			cfg.GraphBatchLimit,
			cfg.GraphMaxAttempts,
			logger,
			metrics,
		)
		if err != nil {
			return nil, err
		}
		providers = append(providers, graphProvider)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no delivery providers configured")
	}

	return NewRouter(mapping, providers...)
}
