// Package token verifies the bearer tokens presented to the gateway.
//
// Verification is a fixed pipeline that stops at the first failure:
//
//  1. the Authorization header must be "Bearer <header>.<payload>.<signature>"
//  2. header and payload are decoded without verifying the signature
//  3. the iss claim must equal the configured issuer
//  4. the token_use claim must equal the required use ("id")
//  5. the header kid must name a key in the issuer's key set
//  6. the signature is verified with that key, then exp/nbf/iat
//
// Steps 3 and 4 read unverified data only to reject early; nothing is
// accepted until step 6 has verified the signature.
package token

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
	"github.com/StricklySoft/gateway-authorizer/pkg/jwks"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/StricklySoft/gateway-authorizer/pkg/token"

// DefaultTokenUse is the token_use a token must carry by default.
const DefaultTokenUse = "id"

// maxTokenSize rejects oversized headers before any decoding (8 KiB).
const maxTokenSize = 8192

// bearerPattern matches "Bearer " followed by three non-empty segments
// free of whitespace and dots.
var bearerPattern = regexp.MustCompile(`^Bearer ([^\s.]+)\.([^\s.]+)\.([^\s.]+)$`)

// KeySource resolves an issuer's key set. [*jwks.Cache] satisfies it.
type KeySource interface {
	Get(ctx context.Context, issuer string) (*jwks.KeySet, error)
}

// Config configures a [Verifier].
type Config struct {
	// Issuer is the only accepted iss claim. Required.
	Issuer string

	// TokenUse is the required token_use claim. Defaults to
	// [DefaultTokenUse].
	TokenUse string

	// ClockSkew is the leeway applied to exp, nbf and iat. Defaults to 0.
	ClockSkew time.Duration

	// Keys resolves the issuer's key set. Required.
	Keys KeySource

	// Logger receives rejection diagnostics. If nil, [slog.Default] is used.
	Logger *slog.Logger
}

// Verifier implements the verification pipeline.
//
// Verifier holds no mutable state of its own and is safe for concurrent
// use.
type Verifier struct {
	issuer    string
	tokenUse  string
	clockSkew time.Duration
	keys      KeySource
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewVerifier validates cfg and returns a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "token: issuer must not be empty")
	}
	if cfg.Keys == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "token: key source must not be nil")
	}
	if cfg.ClockSkew < 0 {
		return nil, sserr.New(sserr.CodeValidation, "token: clock skew must be non-negative")
	}
	if cfg.TokenUse == "" {
		cfg.TokenUse = DefaultTokenUse
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		issuer:    cfg.Issuer,
		tokenUse:  cfg.TokenUse,
		clockSkew: cfg.ClockSkew,
		keys:      cfg.Keys,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Issuer returns the configured issuer.
func (v *Verifier) Issuer() string {
	return v.issuer
}

// Verify checks bearerHeader and returns its claims.
//
// Rejections are *[sserr.Error] with an AUTH code:
// [sserr.CodeTokenMalformed], [sserr.CodeTokenIssuer], [sserr.CodeTokenUse],
// [sserr.CodeTokenUnknownKey], [sserr.CodeTokenExpired] or
// [sserr.CodeTokenSignature]. Failures resolving the key set are returned
// unchanged from the [KeySource].
func (v *Verifier) Verify(ctx context.Context, bearerHeader string) (claims *Claims, err error) {
	ctx, span := v.tracer.Start(ctx, "token.Verify")
	defer func() {
		if err != nil {
			span.SetAttributes(attribute.String("token.failure", sserr.GetCode(err).String()))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// 1. Shape.
	if len(bearerHeader) > maxTokenSize {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: header exceeds maximum size")
	}
	if !bearerPattern.MatchString(bearerHeader) {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: expected \"Bearer <header>.<payload>.<signature>\"")
	}
	raw := strings.TrimPrefix(bearerHeader, "Bearer ")

	// 2. Unverified decode.
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeTokenMalformed, "token: failed to decode header or payload")
	}
	if alg, _ := unverified.Header["alg"].(string); strings.EqualFold(alg, "none") {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: algorithm 'none' is not permitted")
	}
	kid, _ := unverified.Header["kid"].(string)
	mc := unverified.Claims.(jwt.MapClaims)
	iss, _ := mc["iss"].(string)
	use, _ := mc["token_use"].(string)

	// 3. Issuer.
	if iss != v.issuer {
		return nil, sserr.New(sserr.CodeTokenIssuer, "token: issuer is not trusted").
			WithDetail("iss", iss)
	}

	// 4. Intended use.
	if use != v.tokenUse {
		return nil, sserr.Newf(sserr.CodeTokenUse, "token: token_use must be %q", v.tokenUse).
			WithDetail("token_use", use)
	}

	// 5. Key.
	set, err := v.keys.Get(ctx, iss)
	if err != nil {
		return nil, err
	}
	key, ok := set.Lookup(kid)
	if !ok {
		return nil, sserr.New(sserr.CodeTokenUnknownKey, "token: key id not found in issuer key set").
			WithDetail("kid", kid)
	}
	span.SetAttributes(attribute.String("token.kid", kid))

	// 6. Signature and time-based claims.
	verified, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return key.PublicKey, nil
	},
		jwt.WithValidMethods(key.Algorithms()),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, classify(err)
	}

	// 7. Claims.
	values := map[string]any(verified.Claims.(jwt.MapClaims))
	sub, _ := values["sub"].(string)
	v.logger.DebugContext(ctx, "token: verified", "sub", sub, "kid", kid)

	return &Claims{
		Issuer:   iss,
		Subject:  sub,
		TokenUse: use,
		KeyID:    kid,
		Token:    raw,
		Values:   values,
	}, nil
}

// classify maps a golang-jwt verification error onto the token codes.
// Only expiry is distinguished; every other failure, including a bad
// signature, an algorithm mismatch and a not-yet-valid token, is a
// signature failure.
func classify(err error) *sserr.Error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return sserr.Wrap(err, sserr.CodeTokenExpired, "token: token has expired")
	}
	return sserr.Wrap(err, sserr.CodeTokenSignature, "token: signature verification failed")
}
