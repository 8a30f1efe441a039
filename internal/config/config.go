package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=8"`
	RateLimitPerSec   int `env:"RATE_LIMIT_PER_SEC,default=100"`

	// ProcessorURL points the worker at an out-of-process delivery API.
	// Empty means the orchestrator runs in-process.
	ProcessorURL string `env:"PROCESSOR_URL"`

	MaxDeliveryRetries int `env:"MAX_DELIVERY_RETRIES,default=5"`
	MaxDequeueCount    int `env:"MAX_DEQUEUE_COUNT,default=5"`

	RelayHost             string        `env:"RELAY_HOST"`
	RelayPort             int           `env:"RELAY_PORT,default=587"`
	RelayUsername         string        `env:"RELAY_USERNAME"`
	RelayPassword         string        `env:"RELAY_PASSWORD"`
	RelayMaxConnections   int           `env:"RELAY_MAX_CONNECTIONS,default=10"`
	RelayStalenessTimeout time.Duration `env:"RELAY_STALENESS_TIMEOUT,default=60s"`
	RelayMaxAcquireTries  int           `env:"RELAY_MAX_ACQUIRE_RETRIES,default=5"`

	GraphEndpoint     string `env:"GRAPH_ENDPOINT"`
	GraphBatchLimit   int    `env:"GRAPH_BATCH_LIMIT,default=20"`
	GraphMaxAttempts  int    `env:"GRAPH_MAX_ATTEMPTS,default=3"`
	GraphTokenURL     string `env:"GRAPH_TOKEN_URL"`
	GraphClientID     string `env:"GRAPH_CLIENT_ID"`
	GraphClientSecret string `env:"GRAPH_CLIENT_SECRET"`
	GraphScope        string `env:"GRAPH_SCOPE"`

	// GraphAccountMap assigns the sending account per application, e.g.
	// "crm=noreply@tenant.example,billing=invoices@tenant.example".
	GraphAccountMap string `env:"GRAPH_ACCOUNT_MAP"`

	// ProviderMap assigns a delivery provider per application, e.g.
	// "crm=graph,billing=smtp".
	ProviderMap string `env:"PROVIDER_MAP"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// ParseProviderMap turns the PROVIDER_MAP value into application -> provider
// name pairs. Blank entries are rejected rather than silently dropped.
// Provider names are matched case-insensitively, so values are folded here.
func (c *Config) ParseProviderMap() (map[string]string, error) {
	mapping, err := parsePairs(c.ProviderMap, "provider")
	if err != nil {
		return nil, err
	}
	for application, name := range mapping {
		mapping[application] = strings.ToLower(name)
	}
	return mapping, nil
}

// ParseGraphAccountMap turns the GRAPH_ACCOUNT_MAP value into application ->
// sending account pairs.
func (c *Config) ParseGraphAccountMap() (map[string]string, error) {
	return parsePairs(c.GraphAccountMap, "account")
}

func parsePairs(raw string, label string) (map[string]string, error) {
	mapping := make(map[string]string)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return mapping, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid %s mapping %q", label, pair)
		}

		// Only the application key is folded; values such as sending
		// addresses keep their original case.
		application := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if application == "" || value == "" {
			return nil, fmt.Errorf("invalid %s mapping %q", label, pair)
		}

		mapping[application] = value
	}

	return mapping, nil
}
