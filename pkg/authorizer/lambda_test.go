package authorizer

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/gateway-authorizer/internal/testutil"
)

func TestLambdaHandler_Allow(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	handler := NewLambdaHandler(newTestService(t, iss, &countingBroker{}))

	claims := iss.IDClaims("user-1")
	claims["cognito:groups"] = []string{"admins", "ops"}

	resp, err := handler(context.Background(), events.APIGatewayCustomAuthorizerRequest{
		Type:               "TOKEN",
		AuthorizationToken: testutil.Bearer(iss.Token(t, claims)),
		MethodArn:          testARN,
	})
	require.NoError(t, err)

	assert.Equal(t, "us-east-1:identity-1", resp.PrincipalID)
	assert.Equal(t, "2012-10-17", resp.PolicyDocument.Version)
	require.Len(t, resp.PolicyDocument.Statement, 1)
	assert.Equal(t, events.IAMPolicyStatement{
		Action:   []string{"execute-api:Invoke"},
		Effect:   "Allow",
		Resource: []string{"arn:aws:execute-api:us-east-1:123456789012:abcdef/*"},
	}, resp.PolicyDocument.Statement[0])

	assert.Equal(t, "us-east-1:identity-1", resp.Context[IdentityContextKey])
	assert.Equal(t, "user-1", resp.Context["sub"])
	assert.Equal(t, `["admins","ops"]`, resp.Context["cognito:groups"])
}

func TestLambdaHandler_DenyIsUnauthorized(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	handler := NewLambdaHandler(newTestService(t, iss, &countingBroker{}))

	_, err := handler(context.Background(), events.APIGatewayCustomAuthorizerRequest{
		AuthorizationToken: "Bearer bogus",
		MethodArn:          testARN,
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualError(t, err, "Unauthorized")
}

func TestLambdaHandler_HardErrorCarriesCode(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	iss.SetStatus(502)
	handler := NewLambdaHandler(newTestService(t, iss, &countingBroker{}))

	_, err := handler(context.Background(), events.APIGatewayCustomAuthorizerRequest{
		AuthorizationToken: testutil.Bearer(iss.Token(t, iss.IDClaims("user-1"))),
		MethodArn:          testARN,
	})
	assert.EqualError(t, err, "Error: UNAVAIL_001")
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestFlattenContext(t *testing.T) {
	t.Parallel()
	out := flattenContext(map[string]any{
		"s":      "text",
		"n":      float64(1700000000),
		"b":      true,
		"list":   []any{"a", "b"},
		"object": map[string]any{"k": "v"},
		"null":   nil,
	})

	assert.Equal(t, map[string]any{
		"s":      "text",
		"n":      float64(1700000000),
		"b":      true,
		"list":   `["a","b"]`,
		"object": `{"k":"v"}`,
	}, out)
}
