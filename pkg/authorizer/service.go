// Package authorizer decides whether a gateway request may proceed.
//
// A [Service] verifies the request's bearer token, exchanges it for a
// federated identity and returns a [Decision]. Token rejections become
// Deny decisions; failures of the key-set endpoint or the identity broker
// are returned as errors so the gateway can tell "not allowed" from "could
// not decide". The Lambda, HTTP and gRPC adapters in this package map both
// outcomes onto their transports.
package authorizer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
	"github.com/StricklySoft/gateway-authorizer/pkg/identity"
	"github.com/StricklySoft/gateway-authorizer/pkg/token"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/StricklySoft/gateway-authorizer/pkg/authorizer"

// TokenVerifier verifies bearer headers. [*token.Verifier] satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, bearerHeader string) (*token.Claims, error)
}

// IdentityExchanger maps verified claims to a federated identity.
// [*identity.Cache] satisfies it.
type IdentityExchanger interface {
	Exchange(ctx context.Context, claims *token.Claims) (identity.FederatedIdentity, error)
}

// ServiceConfig configures a [Service].
type ServiceConfig struct {
	// Verifier checks tokens. Required.
	Verifier TokenVerifier

	// Identities exchanges tokens for identities. Required.
	Identities IdentityExchanger

	// Metrics observes every decision. If nil, decisions are not counted.
	Metrics Metrics

	// Logger receives decision logs. If nil, [slog.Default] is used.
	Logger *slog.Logger
}

// Service is the authorization decision service.
//
// Service is safe for concurrent use; the only shared state lives in the
// verifier's key-set cache and the identity cache.
type Service struct {
	verifier   TokenVerifier
	identities IdentityExchanger
	metrics    Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewService validates cfg and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Verifier == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "authorizer: verifier must not be nil")
	}
	if cfg.Identities == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "authorizer: identity exchanger must not be nil")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		verifier:   cfg.Verifier,
		identities: cfg.Identities,
		metrics:    metrics,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// Decide authorizes req.
//
// A token that fails verification yields a Deny decision and a nil error.
// Any other failure, including an unreachable key-set endpoint, an
// unparseable key set or a failed identity exchange, is returned as a
// non-nil *[sserr.Error] with no decision.
func (s *Service) Decide(ctx context.Context, req Request) (decision *Decision, err error) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := s.logger.With("request_id", requestID)

	ctx, span := startSpan(ctx, s.tracer, "authorizer.Decide")
	span.SetAttributes(attribute.String("authorizer.request_id", requestID))
	defer func() {
		if decision != nil {
			span.SetAttributes(attribute.String("authorizer.effect", string(decision.Effect)))
		}
		finishSpan(span, err)
		span.End()
	}()

	claims, err := s.verifier.Verify(ctx, req.AuthorizationHeader)
	if err != nil {
		if sserr.IsDenial(err) {
			logger.InfoContext(ctx, "authorizer: denied",
				"code", sserr.GetCode(err),
				"reason", err.Error(),
			)
			s.metrics.ObserveDecision(EffectDeny, sserr.GetCode(err), time.Since(start))
			return &Decision{Effect: EffectDeny, RequestID: requestID, Reason: err}, nil
		}
		return nil, s.fail(ctx, logger, start, err)
	}

	id, err := s.identities.Exchange(ctx, claims)
	if err != nil {
		return nil, s.fail(ctx, logger, start, err)
	}

	decision = &Decision{
		Effect:      EffectAllow,
		RequestID:   requestID,
		PrincipalID: id.IdentityID,
		Policy:      allowPolicy(req.ResourceARN),
		Context:     decisionContext(claims.Values, id.IdentityID),
	}
	logger.InfoContext(ctx, "authorizer: allowed",
		"sub", claims.Subject,
		"principal_id", id.IdentityID,
	)
	s.metrics.ObserveDecision(EffectAllow, "", time.Since(start))
	return decision, nil
}

// fail logs and counts a hard error and returns it with a code attached.
func (s *Service) fail(ctx context.Context, logger *slog.Logger, start time.Time, err error) error {
	ssErr := sserr.FromError(err)
	logger.ErrorContext(ctx, "authorizer: decision failed", ssErr.LogAttrs()...)
	s.metrics.ObserveDecision(EffectError, ssErr.Code, time.Since(start))
	return ssErr
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records err on span.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
