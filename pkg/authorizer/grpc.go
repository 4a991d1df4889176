package authorizer

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
)

// metadataAuthorization is the gRPC metadata key carrying the bearer token.
const metadataAuthorization = "authorization"

// UnaryServerInterceptor authorizes unary calls with svc. The resource of
// each call is resourcePrefix followed by the full method name, e.g.
// "arn:aws:execute-api:us-east-1:123:api/prod" + "/pets.v1.Pets/List".
//
// Deny maps to codes.Unauthenticated, an unavailable collaborator to
// codes.Unavailable and any other failure to codes.Internal. Allowed
// calls reach the handler with the decision in their context.
func UnaryServerInterceptor(svc *Service, resourcePrefix string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authorizeGRPC(ctx, svc, resourcePrefix, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of
// [UnaryServerInterceptor].
func StreamServerInterceptor(svc *Service, resourcePrefix string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authorizeGRPC(ss.Context(), svc, resourcePrefix, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authorizeGRPC(ctx context.Context, svc *Service, resourcePrefix, method string) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(metadataAuthorization); len(values) > 0 {
			header = values[0]
		}
	}

	d, err := svc.Decide(ctx, Request{
		AuthorizationHeader: header,
		ResourceARN:         strings.TrimRight(resourcePrefix, "/") + method,
	})
	if err != nil {
		code := codes.Internal
		if sserr.IsUnavailable(err) {
			code = codes.Unavailable
		}
		return ctx, status.Error(code, sserr.GetCode(err).String())
	}
	if !d.Allowed() {
		return ctx, status.Error(codes.Unauthenticated, "Unauthorized")
	}
	return ContextWithDecision(ctx, d), nil
}

// wrappedServerStream overrides Context so handlers see the decision.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
