// Package concern implements the gateway's ordered concern chain (C8):
// authentication, structured logging, metrics, and error-code mapping,
// expressed as grpc.UnaryServerInterceptor/StreamServerInterceptor values
// so they compose via grpc.ChainUnaryInterceptor/ChainStreamInterceptor
// when the gateway's client-facing gRPC server is constructed. Declaration
// order is outermost-first: the first interceptor UnaryServerOptions and
// StreamServerOptions chain sees a request before any of the others.
package concern

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/tracdap/platform-gateway/internal/apperror"
)

// Claims is the minimal claim set the gateway cares about; pluggable
// TokenValidators may return richer claims embedded in ctx via
// ClaimsFromContext.
type Claims struct {
	Subject string
	Issuer  string
	Scopes  []string
}

// TokenValidator validates a bearer token and extracts Claims from it.
// Token issuance is out of scope for the gateway; only validation of
// tokens issued elsewhere is implemented here.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the Claims attached by the auth interceptor,
// if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return c, ok
}

// JWTValidator validates bearer tokens as JWTs using one of a fixed set
// of allowed signing algorithms and, optionally, an HMAC secret (for
// symmetric deployments) — asymmetric keys are expected to be supplied
// through a jwt.Keyfunc built from a JWKS fetch at startup and are out of
// scope for this minimal validator.
type JWTValidator struct {
	Keyfunc       jwt.Keyfunc
	Issuer        string
	Audience      string
	AllowedAlgs   []string
}

// NewHMACValidator builds a JWTValidator for deployments using a shared
// HMAC secret rather than a JWKS endpoint.
func NewHMACValidator(secret string, issuer, audience string, allowedAlgs []string) *JWTValidator {
	return &JWTValidator{
		Keyfunc: func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		Issuer:      issuer,
		Audience:    audience,
		AllowedAlgs: allowedAlgs,
	}
}

func (v *JWTValidator) Validate(_ context.Context, token string) (*Claims, error) {
	parsed, err := jwt.Parse(token, v.Keyfunc, jwt.WithValidMethods(v.AllowedAlgs))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnauthenticated, "invalid bearer token")
	}
	if !parsed.Valid {
		return nil, apperror.New(apperror.CodeUnauthenticated, "token failed validation")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperror.New(apperror.CodeUnauthenticated, "unexpected claims shape")
	}

	if v.Issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != v.Issuer {
			return nil, apperror.New(apperror.CodeUnauthenticated, "unexpected token issuer")
		}
	}
	if v.Audience != "" {
		aud, _ := claims.GetAudience()
		if !containsString(aud, v.Audience) {
			return nil, apperror.New(apperror.CodeUnauthenticated, "token audience does not include this gateway")
		}
	}

	out := &Claims{}
	if sub, _ := claims.GetSubject(); sub != "" {
		out.Subject = sub
	}
	if iss, _ := claims.GetIssuer(); iss != "" {
		out.Issuer = iss
	}
	if scope, ok := claims["scope"].(string); ok {
		out.Scopes = strings.Fields(scope)
	}

	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", apperror.New(apperror.CodeUnauthenticated, "no metadata on incoming context")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", apperror.New(apperror.CodeUnauthenticated, "missing authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(values[0], prefix) {
		return "", apperror.New(apperror.CodeUnauthenticated, "authorization header is not a bearer token")
	}
	return strings.TrimPrefix(values[0], prefix), nil
}

// UnaryServerInterceptor validates the bearer token on every unary call
// and attaches its Claims to the context, or rejects the call with
// Unauthenticated.
func UnaryServerInterceptor(validator TokenValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		token, err := bearerToken(ctx)
		if err != nil {
			return nil, apperror.ToGRPC(err)
		}
		claims, err := validator.Validate(ctx, token)
		if err != nil {
			return nil, apperror.ToGRPC(err)
		}
		return handler(context.WithValue(ctx, claimsContextKey{}, claims), req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// UnaryServerInterceptor.
func StreamServerInterceptor(validator TokenValidator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		token, err := bearerToken(ss.Context())
		if err != nil {
			return apperror.ToGRPC(err)
		}
		claims, err := validator.Validate(ss.Context(), token)
		if err != nil {
			return apperror.ToGRPC(err)
		}
		return handler(srv, &claimsServerStream{ServerStream: ss, claims: claims})
	}
}

type claimsServerStream struct {
	grpc.ServerStream
	claims *Claims
}

func (s *claimsServerStream) Context() context.Context {
	return context.WithValue(s.ServerStream.Context(), claimsContextKey{}, s.claims)
}
