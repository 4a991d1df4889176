package authorizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/gateway-authorizer/internal/testutil"
	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
	"github.com/StricklySoft/gateway-authorizer/pkg/identity"
	"github.com/StricklySoft/gateway-authorizer/pkg/token"
)

const (
	testPoolID = "us-east-1:11111111-2222-3333-4444-555555555555"
	testARN    = "arn:aws:execute-api:us-east-1:123456789012:abcdef/prod/GET/pets"
)

// countingBroker answers every exchange with an identity derived from the
// login token and counts calls.
type countingBroker struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (b *countingBroker) Exchange(_ context.Context, req identity.ExchangeRequest) (identity.FederatedIdentity, error) {
	b.calls.Add(1)
	if b.gate != nil {
		<-b.gate
	}
	if b.err != nil {
		return identity.FederatedIdentity{}, b.err
	}
	if len(req.Logins) != 1 {
		return identity.FederatedIdentity{}, errors.New("expected exactly one login")
	}
	return identity.FederatedIdentity{IdentityID: "us-east-1:identity-1"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(iss *testutil.Issuer) Config {
	return Config{
		Issuer:         iss.URL(),
		IdentityPoolID: testPoolID,
		TokenUse:       "id",
		HTTPTimeout:    5 * time.Second,
		Mode:           ModeLambda,
		ListenAddr:     ":8080",
		LogLevel:       "info",
	}
}

// newTestService wires the real key-set cache and verifier to iss and a
// counting broker.
func newTestService(t *testing.T, iss *testutil.Issuer, broker identity.Broker, opts ...func(*Options)) *Service {
	t.Helper()
	o := Options{Broker: broker, Logger: discardLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	svc, err := New(context.Background(), testConfig(iss), o)
	require.NoError(t, err)
	return svc
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewService_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewService(ServiceConfig{})
	testutil.AssertErrorCode(t, err, sserr.CodeValidationRequired)

	_, err = NewService(ServiceConfig{Verifier: &token.Verifier{}})
	testutil.AssertErrorCode(t, err, sserr.CodeValidationRequired)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	cfg := testConfig(iss)
	cfg.Mode = "batch"

	_, err := New(context.Background(), cfg, Options{Broker: &countingBroker{}})
	testutil.AssertErrorCode(t, err, sserr.CodeValidation)
}

// ---------------------------------------------------------------------------
// Allow
// ---------------------------------------------------------------------------

func TestDecide_Allow(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	broker := &countingBroker{}
	svc := newTestService(t, iss, broker)

	d, err := svc.Decide(context.Background(), Request{
		AuthorizationHeader: testutil.Bearer(iss.Token(t, iss.IDClaims("user-1"))),
		ResourceARN:         testARN,
	})
	require.NoError(t, err)
	require.True(t, d.Allowed())

	assert.Equal(t, "us-east-1:identity-1", d.PrincipalID)
	assert.NotEmpty(t, d.RequestID)
	assert.Nil(t, d.Reason)
	assert.Equal(t, &PolicyDocument{
		Version: "2012-10-17",
		Statement: []Statement{{
			Action:   "execute-api:Invoke",
			Effect:   EffectAllow,
			Resource: "arn:aws:execute-api:us-east-1:123456789012:abcdef/*",
		}},
	}, d.Policy)

	assert.Equal(t, "us-east-1:identity-1", d.Context[IdentityContextKey])
	assert.Equal(t, "user-1", d.Context["sub"])
	assert.Equal(t, "user-1@example.com", d.Context["email"])
	assert.Equal(t, iss.URL(), d.Context["iss"])
	assert.Equal(t, "id", d.Context["token_use"])
}

func TestDecide_IsIdempotent(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	broker := &countingBroker{}
	svc := newTestService(t, iss, broker)
	req := Request{
		AuthorizationHeader: testutil.Bearer(iss.Token(t, iss.IDClaims("user-1"))),
		ResourceARN:         testARN,
	}

	first, err := svc.Decide(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Decide(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Effect, second.Effect)
	assert.Equal(t, first.PrincipalID, second.PrincipalID)
	assert.Equal(t, first.Policy, second.Policy)
	assert.Equal(t, first.Context, second.Context)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	assert.Equal(t, 1, iss.Hits())
	assert.Equal(t, int32(1), broker.calls.Load())
}

func TestDecide_ConcurrentFirstRequestsShareFetchAndExchange(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	release := iss.Hold()
	broker := &countingBroker{gate: make(chan struct{})}
	svc := newTestService(t, iss, broker)
	header := testutil.Bearer(iss.Token(t, iss.IDClaims("user-1")))

	const callers = 16
	var wg sync.WaitGroup
	decisions := make([]*Decision, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = svc.Decide(context.Background(), Request{AuthorizationHeader: header, ResourceARN: testARN})
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	release()
	time.Sleep(50 * time.Millisecond)
	close(broker.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, decisions[i].Allowed())
		assert.Equal(t, decisions[0].PrincipalID, decisions[i].PrincipalID)
	}
	assert.Equal(t, 1, iss.Hits(), "one key-set fetch")
	assert.Equal(t, int32(1), broker.calls.Load(), "one identity exchange")
}

// ---------------------------------------------------------------------------
// Deny
// ---------------------------------------------------------------------------

func TestDecide_DenyNeverTouchesCollaborators(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)

	wrongIssuer := iss.IDClaims("user-1")
	wrongIssuer["iss"] = "https://cognito-idp.us-east-1.amazonaws.com/other"
	accessToken := iss.IDClaims("user-1")
	accessToken["token_use"] = "access"

	tests := []struct {
		name   string
		header string
		code   sserr.Code
	}{
		{"missing header", "", sserr.CodeTokenMalformed},
		{"not bearer", "Basic dXNlcjpwYXNz", sserr.CodeTokenMalformed},
		{"garbage", "Bearer not-a-token", sserr.CodeTokenMalformed},
		{"wrong issuer", testutil.Bearer(iss.Token(t, wrongIssuer)), sserr.CodeTokenIssuer},
		{"access token", testutil.Bearer(iss.Token(t, accessToken)), sserr.CodeTokenUse},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			broker := &countingBroker{}
			svc := newTestService(t, iss, broker)

			d, err := svc.Decide(context.Background(), Request{AuthorizationHeader: tc.header, ResourceARN: testARN})
			require.NoError(t, err)
			assert.Equal(t, EffectDeny, d.Effect)
			assert.False(t, d.Allowed())
			assert.Nil(t, d.Policy)
			assert.Empty(t, d.PrincipalID)
			testutil.AssertErrorCode(t, d.Reason, tc.code)
			assert.Equal(t, int32(0), broker.calls.Load())
		})
	}
	t.Cleanup(func() {
		assert.Equal(t, 0, iss.Hits(), "rejected tokens must not fetch keys")
	})
}

func TestDecide_DenyAfterKeyLookup(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	broker := &countingBroker{}
	svc := newTestService(t, iss, broker)

	expired := iss.IDClaims("user-1")
	expired["iat"] = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
	expired["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name   string
		header string
		code   sserr.Code
	}{
		{"unknown kid", testutil.Bearer(iss.TokenWithKid(t, "xyz", iss.IDClaims("user-1"))), sserr.CodeTokenUnknownKey},
		{"expired", testutil.Bearer(iss.Token(t, expired)), sserr.CodeTokenExpired},
	}
	for _, tc := range tests {
		d, err := svc.Decide(context.Background(), Request{AuthorizationHeader: tc.header, ResourceARN: testARN})
		require.NoError(t, err, tc.name)
		assert.Equal(t, EffectDeny, d.Effect, tc.name)
		testutil.AssertErrorCode(t, d.Reason, tc.code, tc.name)
	}
	assert.Equal(t, int32(0), broker.calls.Load())
}

// ---------------------------------------------------------------------------
// Hard errors
// ---------------------------------------------------------------------------

func TestDecide_KeySetUnavailableIsHardError(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	iss.SetStatus(500)
	broker := &countingBroker{}
	svc := newTestService(t, iss, broker)
	header := testutil.Bearer(iss.Token(t, iss.IDClaims("user-1")))

	d, err := svc.Decide(context.Background(), Request{AuthorizationHeader: header, ResourceARN: testARN})
	assert.Nil(t, d)
	testutil.RequireErrorCode(t, err, sserr.CodeKeySetFetch)

	// The failure is not cached: the next request fetches again.
	iss.SetStatus(0)
	d, err = svc.Decide(context.Background(), Request{AuthorizationHeader: header, ResourceARN: testARN})
	require.NoError(t, err)
	assert.True(t, d.Allowed())
	assert.Equal(t, 2, iss.Hits())
}

func TestDecide_KeySetUnparseableIsHardError(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	iss.SetBody("<html>")
	svc := newTestService(t, iss, &countingBroker{})

	_, err := svc.Decide(context.Background(), Request{
		AuthorizationHeader: testutil.Bearer(iss.Token(t, iss.IDClaims("user-1"))),
		ResourceARN:         testARN,
	})
	testutil.AssertErrorCode(t, err, sserr.CodeKeySetParse)
}

func TestDecide_BrokerFailureIsHardError(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	broker := &countingBroker{err: errors.New("ResourceNotFoundException")}
	svc := newTestService(t, iss, broker)

	_, err := svc.Decide(context.Background(), Request{
		AuthorizationHeader: testutil.Bearer(iss.Token(t, iss.IDClaims("user-1"))),
		ResourceARN:         testARN,
	})
	testutil.AssertErrorCode(t, err, sserr.CodeIdentityBroker)
	assert.True(t, sserr.IsUnavailable(err))
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestDecide_ObservesPrometheusMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	iss := testutil.NewIssuer(t)
	svc := newTestService(t, iss, &countingBroker{}, func(o *Options) { o.Metrics = metrics })

	_, err = svc.Decide(context.Background(), Request{
		AuthorizationHeader: testutil.Bearer(iss.Token(t, iss.IDClaims("user-1"))),
		ResourceARN:         testARN,
	})
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), Request{AuthorizationHeader: "Bearer nope", ResourceARN: testARN})
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.decisions.WithLabelValues("Allow", "")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.decisions.WithLabelValues("Deny", string(sserr.CodeTokenMalformed))))
	assert.Equal(t, 2, promtestutil.CollectAndCount(metrics.duration))
}

func TestNewPrometheusMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	_, err = NewPrometheusMetrics(reg)
	testutil.AssertErrorCode(t, err, sserr.CodeInternalConfiguration)
}

// ---------------------------------------------------------------------------
// Policy helpers
// ---------------------------------------------------------------------------

func TestResourcePrefix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		arn  string
		want string
	}{
		{testARN, "arn:aws:execute-api:us-east-1:123456789012:abcdef"},
		{"arn:aws:execute-api:us-east-1:1:api", "arn:aws:execute-api:us-east-1:1:api"},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ResourcePrefix(tc.arn), tc.arn)
	}
}

func TestDecisionContext_DoesNotAliasClaims(t *testing.T) {
	t.Parallel()
	claims := map[string]any{"sub": "user-1"}
	ctx := decisionContext(claims, "id-1")

	assert.Equal(t, map[string]any{"sub": "user-1", IdentityContextKey: "id-1"}, ctx)
	assert.NotContains(t, claims, IdentityContextKey)
}
