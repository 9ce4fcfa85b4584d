package rpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenResolver maps a bearer value to the session's user id.
type TokenResolver func(token string) (userID string, err error)

// context key type for storing the session user in context
type userContextKey struct{}

// UserFromContext returns the authenticated user id attached by the
// auth interceptor.
func UserFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userContextKey{}).(string)
	return v, ok && v != ""
}

// AuthStreamInterceptor requires "authorization: Bearer <session cookie>"
// on every stream and attaches the session user to the stream context.
func AuthStreamInterceptor(resolve TokenResolver) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Errorf(codes.Unauthenticated, "missing metadata")
		}
		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return status.Errorf(codes.Unauthenticated, "missing authorization header")
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeaders[0], "Bearer"))
		if token == "" {
			return status.Errorf(codes.Unauthenticated, "invalid token")
		}

		userID, err := resolve(token)
		if err != nil {
			return status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
		}

		// wrap stream context with the session user
		newCtx := context.WithValue(ss.Context(), userContextKey{}, userID)
		return handler(srv, wrappedStream{ServerStream: ss, ctx: newCtx})
	}
}

// wrappedStream wraps grpc.ServerStream to override Context()
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context (with the session user)
func (w wrappedStream) Context() context.Context { return w.ctx }
