package authorizer

import (
	"maps"
	"strings"
)

// Effect is the outcome of an authorization decision.
type Effect string

const (
	// EffectAllow lets the request through.
	EffectAllow Effect = "Allow"

	// EffectDeny rejects the request as unauthenticated.
	EffectDeny Effect = "Deny"
)

// PolicyVersion is the policy language version of every issued policy.
const PolicyVersion = "2012-10-17"

// InvokeAction is the API Gateway action every issued statement grants.
const InvokeAction = "execute-api:Invoke"

// IdentityContextKey is the decision context member holding the
// federated identity id.
const IdentityContextKey = "cognitoIdentityId"

// Request is one authorization request from the gateway.
type Request struct {
	// AuthorizationHeader is the raw Authorization header value.
	AuthorizationHeader string

	// ResourceARN is the ARN of the method being invoked, e.g.
	// "arn:aws:execute-api:us-east-1:123456789012:api-id/prod/GET/pets".
	ResourceARN string
}

// Statement is one policy statement.
type Statement struct {
	Action   string `json:"Action"`
	Effect   Effect `json:"Effect"`
	Resource string `json:"Resource"`
}

// PolicyDocument is the policy returned with an Allow decision.
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Decision is the result of [Service.Decide].
type Decision struct {
	// Effect is EffectAllow or EffectDeny.
	Effect Effect

	// RequestID correlates the decision with its log lines.
	RequestID string

	// PrincipalID is the federated identity id. Set on Allow.
	PrincipalID string

	// Policy grants invoke access to the whole API stage. Set on Allow.
	Policy *PolicyDocument

	// Context carries every verified claim plus IdentityContextKey. Set on
	// Allow.
	Context map[string]any

	// Reason is the rejection behind a Deny. It is for logs only and is
	// never returned to the gateway.
	Reason error
}

// Allowed reports whether d lets the request through.
func (d *Decision) Allowed() bool {
	return d != nil && d.Effect == EffectAllow
}

// ResourcePrefix returns the portion of arn before its first "/", or arn
// itself when it has none.
func ResourcePrefix(arn string) string {
	prefix, _, _ := strings.Cut(arn, "/")
	return prefix
}

// allowPolicy grants invoke on everything under the ARN prefix.
func allowPolicy(resourceARN string) *PolicyDocument {
	return &PolicyDocument{
		Version: PolicyVersion,
		Statement: []Statement{{
			Action:   InvokeAction,
			Effect:   EffectAllow,
			Resource: ResourcePrefix(resourceARN) + "/*",
		}},
	}
}

// decisionContext merges claims with the identity id.
func decisionContext(claims map[string]any, identityID string) map[string]any {
	ctx := make(map[string]any, len(claims)+1)
	maps.Copy(ctx, claims)
	ctx[IdentityContextKey] = identityID
	return ctx
}
