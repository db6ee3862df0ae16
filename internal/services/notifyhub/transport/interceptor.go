package transport

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey int

const identityKey ctxKey = 1

func IdentityFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey).(string)
	return id, ok && id != ""
}

// PlainIdentifier resolves identities from values carried outside HTTP.
type PlainIdentifier interface {
	FromPlain(token, user string) (string, error)
}

// StreamIdentityInterceptor resolves the caller identity of session streams
// from the authorization bearer token or the x-user-id metadata. Other
// services pass through untouched.
func StreamIdentityInterceptor(ident PlainIdentifier) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if !strings.HasPrefix(info.FullMethod, "/"+SessionServiceName+"/") {
			return next(srv, ss)
		}
		md, _ := metadata.FromIncomingContext(ss.Context())
		identity, err := ident.FromPlain(bearer(md), first(md, mdUserID))
		if err != nil {
			return status.Error(codes.Unauthenticated, err.Error())
		}
		return next(srv, &identityStream{
			ServerStream: ss,
			ctx:          context.WithValue(ss.Context(), identityKey, identity),
		})
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

func bearer(md metadata.MD) string {
	v := first(md, mdAuthorization)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
