package authorizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
)

// ErrUnauthorized is the error API Gateway maps to a 401 response.
var ErrUnauthorized = errors.New("Unauthorized")

// LambdaHandler is the Lambda entry point for a TOKEN custom authorizer.
type LambdaHandler func(ctx context.Context, event events.APIGatewayCustomAuthorizerRequest) (events.APIGatewayCustomAuthorizerResponse, error)

// NewLambdaHandler adapts svc to the custom-authorizer contract: Allow
// returns a policy response, Deny returns [ErrUnauthorized], and a hard
// error returns "Error: <code>" so the gateway answers 500.
func NewLambdaHandler(svc *Service) LambdaHandler {
	return func(ctx context.Context, event events.APIGatewayCustomAuthorizerRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
		d, err := svc.Decide(ctx, Request{
			AuthorizationHeader: event.AuthorizationToken,
			ResourceARN:         event.MethodArn,
		})
		if err != nil {
			return events.APIGatewayCustomAuthorizerResponse{}, fmt.Errorf("Error: %s", sserr.GetCode(err))
		}
		if !d.Allowed() {
			return events.APIGatewayCustomAuthorizerResponse{}, ErrUnauthorized
		}
		return lambdaResponse(d), nil
	}
}

func lambdaResponse(d *Decision) events.APIGatewayCustomAuthorizerResponse {
	statements := make([]events.IAMPolicyStatement, 0, len(d.Policy.Statement))
	for _, st := range d.Policy.Statement {
		statements = append(statements, events.IAMPolicyStatement{
			Action:   []string{st.Action},
			Effect:   string(st.Effect),
			Resource: []string{st.Resource},
		})
	}
	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: d.PrincipalID,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version:   d.Policy.Version,
			Statement: statements,
		},
		Context: flattenContext(d.Context),
	}
}

// flattenContext keeps strings, numbers and booleans and JSON-encodes
// every other value; API Gateway rejects nested authorizer context.
func flattenContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch v.(type) {
		case nil:
			continue
		case string, bool, float64, float32, int, int32, int64, json.Number:
			out[k] = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				out[k] = fmt.Sprint(v)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
