// Package identity exchanges verified tokens for federated identities.
//
// A [Cache] calls a [Broker] at most once per token subject: concurrent
// exchanges for one subject share a single broker call, and a successful
// result is kept for the life of the process. Failed exchanges are not
// kept, so the next request for that subject calls the broker again.
package identity

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/gateway-authorizer/internal/inflight"
	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
	"github.com/StricklySoft/gateway-authorizer/pkg/token"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/StricklySoft/gateway-authorizer/pkg/identity"

// FederatedIdentity is the broker-assigned identity for a token subject.
type FederatedIdentity struct {
	// IdentityID is the opaque identifier, e.g.
	// "us-east-1:0f5d3c1e-7f7a-4c4b-9a55-5a1b7c9d2e11".
	IdentityID string
}

// ExchangeRequest is one call to a [Broker].
type ExchangeRequest struct {
	// PoolID is the identity pool the identity belongs to.
	PoolID string

	// Logins maps a login provider name to the token proving the login.
	Logins map[string]string
}

// Broker resolves a login to a federated identity.
type Broker interface {
	Exchange(ctx context.Context, req ExchangeRequest) (FederatedIdentity, error)
}

// BrokerFunc adapts a function to the [Broker] interface.
type BrokerFunc func(ctx context.Context, req ExchangeRequest) (FederatedIdentity, error)

// Exchange calls f(ctx, req).
func (f BrokerFunc) Exchange(ctx context.Context, req ExchangeRequest) (FederatedIdentity, error) {
	return f(ctx, req)
}

// Config configures a [Cache].
type Config struct {
	// PoolID is sent with every exchange. Required.
	PoolID string

	// Broker performs exchanges. Required.
	Broker Broker

	// Logger receives exchange diagnostics. If nil, [slog.Default] is used.
	Logger *slog.Logger
}

// Cache is the per-subject identity cache.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	poolID     string
	broker     Broker
	logger     *slog.Logger
	tracer     trace.Tracer
	identities *inflight.Group[FederatedIdentity]
}

// NewCache validates cfg and returns an empty Cache.
func NewCache(cfg Config) (*Cache, error) {
	if cfg.PoolID == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "identity: pool id must not be empty")
	}
	if cfg.Broker == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "identity: broker must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		poolID:     cfg.PoolID,
		broker:     cfg.Broker,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		identities: inflight.New[FederatedIdentity](),
	}, nil
}

// Exchange returns the federated identity for claims.Subject, calling the
// broker on first use.
//
// Broker failures are returned as *[sserr.Error] with
// [sserr.CodeIdentityBroker].
func (c *Cache) Exchange(ctx context.Context, claims *token.Claims) (FederatedIdentity, error) {
	if claims == nil || claims.Subject == "" {
		return FederatedIdentity{}, sserr.New(sserr.CodeInternal, "identity: claims carry no subject")
	}
	return c.identities.Do(ctx, claims.Subject, func(ctx context.Context) (FederatedIdentity, error) {
		return c.exchange(ctx, claims)
	})
}

// exchange performs the single broker call for a subject.
func (c *Cache) exchange(ctx context.Context, claims *token.Claims) (id FederatedIdentity, err error) {
	provider := LoginProvider(claims.Issuer)
	ctx, span := c.tracer.Start(ctx, "identity.Exchange", trace.WithAttributes(
		attribute.String("identity.provider", provider),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	id, err = c.broker.Exchange(ctx, ExchangeRequest{
		PoolID: c.poolID,
		Logins: map[string]string{provider: claims.Token},
	})
	if err != nil {
		return FederatedIdentity{}, sserr.Wrap(err, sserr.CodeIdentityBroker, "identity: exchange failed").
			WithDetail("provider", provider)
	}
	if id.IdentityID == "" {
		return FederatedIdentity{}, sserr.New(sserr.CodeIdentityBroker, "identity: broker returned an empty identity id").
			WithDetail("provider", provider)
	}

	c.logger.DebugContext(ctx, "identity: exchanged", "sub", claims.Subject, "identity_id", id.IdentityID)
	return id, nil
}

// Cached reports whether an identity for subject has been stored.
func (c *Cache) Cached(subject string) bool {
	_, ok := c.identities.Load(subject)
	return ok
}

// LoginProvider derives the login provider name from an issuer URL by
// removing its scheme: "https://cognito-idp.us-east-1.amazonaws.com/pool"
// becomes "cognito-idp.us-east-1.amazonaws.com/pool".
func LoginProvider(issuer string) string {
	for _, scheme := range []string{"https://", "http://"} {
		if rest, ok := strings.CutPrefix(issuer, scheme); ok {
			return rest
		}
	}
	return issuer
}
