package authorizer

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/StricklySoft/gateway-authorizer/pkg/identity"
	"github.com/StricklySoft/gateway-authorizer/pkg/jwks"
	"github.com/StricklySoft/gateway-authorizer/pkg/token"
)

// Options overrides collaborators that [New] would otherwise build.
type Options struct {
	// HTTPClient fetches key sets. Defaults to an [http.Client] with
	// Config.HTTPTimeout.
	HTTPClient jwks.HTTPClient

	// Broker exchanges tokens. Defaults to a [identity.CognitoBroker] for
	// the region of Config.IdentityPoolID.
	Broker identity.Broker

	// Metrics observes decisions. Defaults to [NoopMetrics].
	Metrics Metrics

	// Logger is shared by every component. Defaults to [slog.Default].
	Logger *slog.Logger
}

// New assembles a Service from cfg: a key-set cache, a token verifier for
// cfg.Issuer and an identity cache for cfg.IdentityPoolID.
func New(ctx context.Context, cfg Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	keys := jwks.NewCache(jwks.Config{HTTPClient: client, Logger: logger})

	verifier, err := token.NewVerifier(token.Config{
		Issuer:    cfg.Issuer,
		TokenUse:  cfg.TokenUse,
		ClockSkew: cfg.ClockSkew,
		Keys:      keys,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	broker := opts.Broker
	if broker == nil {
		cognito, err := identity.NewCognitoBrokerFromPool(ctx, cfg.IdentityPoolID)
		if err != nil {
			return nil, err
		}
		broker = cognito
	}
	identities, err := identity.NewCache(identity.Config{
		PoolID: cfg.IdentityPoolID,
		Broker: broker,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return NewService(ServiceConfig{
		Verifier:   verifier,
		Identities: identities,
		Metrics:    opts.Metrics,
		Logger:     logger,
	})
}
