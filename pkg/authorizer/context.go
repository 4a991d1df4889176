package authorizer

import "context"

type contextKey int

const decisionKey contextKey = iota

// ContextWithDecision returns a copy of ctx carrying d.
func ContextWithDecision(ctx context.Context, d *Decision) context.Context {
	return context.WithValue(ctx, decisionKey, d)
}

// DecisionFromContext returns the Allow decision stored by
// [HTTPMiddleware] or [UnaryServerInterceptor].
func DecisionFromContext(ctx context.Context) (*Decision, bool) {
	d, ok := ctx.Value(decisionKey).(*Decision)
	return d, ok && d != nil
}
