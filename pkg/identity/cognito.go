package identity

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"

	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
)

// GetIDAPI is the subset of the Cognito Identity client used by
// [CognitoBroker]. [*cognitoidentity.Client] satisfies it.
type GetIDAPI interface {
	GetId(ctx context.Context, params *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
}

// CognitoBroker is a [Broker] backed by Amazon Cognito identity pools.
type CognitoBroker struct {
	api GetIDAPI
}

// NewCognitoBroker returns a broker that calls api.
func NewCognitoBroker(api GetIDAPI) *CognitoBroker {
	return &CognitoBroker{api: api}
}

// NewCognitoBrokerFromPool loads the default AWS configuration for the
// region encoded in poolID and returns a broker using it.
func NewCognitoBrokerFromPool(ctx context.Context, poolID string) (*CognitoBroker, error) {
	region, err := RegionFromPoolID(poolID)
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "identity: failed to load AWS configuration").
			WithDetail("region", region)
	}
	return NewCognitoBroker(cognitoidentity.NewFromConfig(cfg)), nil
}

// Exchange calls GetId for req.
func (b *CognitoBroker) Exchange(ctx context.Context, req ExchangeRequest) (FederatedIdentity, error) {
	out, err := b.api.GetId(ctx, &cognitoidentity.GetIdInput{
		IdentityPoolId: aws.String(req.PoolID),
		Logins:         req.Logins,
	})
	if err != nil {
		return FederatedIdentity{}, err
	}
	return FederatedIdentity{IdentityID: aws.ToString(out.IdentityId)}, nil
}

// RegionFromPoolID returns the region prefix of an identity pool id of
// the form "<region>:<uuid>".
func RegionFromPoolID(poolID string) (string, error) {
	region, _, ok := strings.Cut(poolID, ":")
	if !ok || region == "" {
		return "", sserr.Newf(sserr.CodeValidation, "identity: pool id %q is not of the form <region>:<id>", poolID)
	}
	return region, nil
}
