package jwks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/gateway-authorizer/internal/inflight"
	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/StricklySoft/gateway-authorizer/pkg/jwks"

// WellKnownPath is appended to the issuer URL to locate its key set.
const WellKnownPath = "/.well-known/jwks.json"

// maxBodySize caps the key-set response body (1 MiB).
const maxBodySize = 1 << 20

// HTTPClient abstracts the client used to fetch key sets. [http.Client]
// satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a [Cache].
type Config struct {
	// HTTPClient fetches key sets. If nil, an [http.Client] with a
	// 10-second timeout is used.
	HTTPClient HTTPClient

	// Logger receives fetch diagnostics. If nil, [slog.Default] is used.
	Logger *slog.Logger
}

// Cache is the per-issuer key-set cache.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	client HTTPClient
	logger *slog.Logger
	tracer trace.Tracer
	sets   *inflight.Group[*KeySet]
}

// NewCache creates an empty Cache.
func NewCache(cfg Config) *Cache {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client: client,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		sets:   inflight.New[*KeySet](),
	}
}

// URL returns the key-set location for issuer.
func URL(issuer string) string {
	return strings.TrimRight(issuer, "/") + WellKnownPath
}

// Get returns the key set published by issuer, fetching it on first use.
//
// Errors are *[sserr.Error] with [sserr.CodeKeySetFetch] when the endpoint
// is unreachable or answers with a non-200 status, and
// [sserr.CodeKeySetParse] when the body is not a key-set document.
func (c *Cache) Get(ctx context.Context, issuer string) (*KeySet, error) {
	return c.sets.Do(ctx, issuer, func(ctx context.Context) (*KeySet, error) {
		return c.fetch(ctx, issuer)
	})
}

// fetch performs the single outbound request for issuer.
func (c *Cache) fetch(ctx context.Context, issuer string) (set *KeySet, err error) {
	location := URL(issuer)
	ctx, span := c.tracer.Start(ctx, "jwks.Fetch", trace.WithAttributes(
		attribute.String("jwks.issuer", issuer),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("jwks.key_count", len(set.Keys)))
		}
		span.End()
	}()

	c.logger.DebugContext(ctx, "jwks: fetching key set", "url", location)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeySetFetch, "jwks: failed to create request").
			WithDetail("issuer", issuer)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeySetFetch, "jwks: request failed").
			WithDetail("issuer", issuer)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, sserr.Newf(sserr.CodeKeySetFetch, "jwks: %s returned status %d", location, resp.StatusCode).
			WithDetail("issuer", issuer).
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeySetFetch, "jwks: failed to read response").
			WithDetail("issuer", issuer)
	}

	set, err = parseKeySet(issuer, body)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "jwks: key set cached", "issuer", issuer, "keys", len(set.Keys))
	return set, nil
}

// parseKeySet decodes a key-set document.
func parseKeySet(issuer string, body []byte) (*KeySet, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeySetParse, "jwks: response is not valid JSON").
			WithDetail("issuer", issuer)
	}
	if doc.Keys == nil {
		return nil, sserr.New(sserr.CodeKeySetParse, "jwks: document has no keys array").
			WithDetail("issuer", issuer)
	}

	set := &KeySet{Issuer: issuer, Keys: make([]SigningKey, 0, len(*doc.Keys))}
	for _, raw := range *doc.Keys {
		key, ok, err := raw.toSigningKey()
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeKeySetParse, "jwks: malformed key").
				WithDetail("issuer", issuer)
		}
		if !ok {
			continue
		}
		set.Keys = append(set.Keys, key)
	}
	return set, nil
}

// Cached reports whether a key set for issuer has been stored.
func (c *Cache) Cached(issuer string) bool {
	_, ok := c.sets.Load(issuer)
	return ok
}
