// Package auth delegates bearer-token verification to the service that owns
// identities and attaches the verified identity to the request context.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/drblury/shopmesh/internal/runtime/client"
	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	"github.com/drblury/shopmesh/internal/runtime/jsoncodec"
)

// Identity is the verified subject of a request. It lives for one request only.
type Identity struct {
	SubjectID  string
	Email      string
	Attributes map[string]any
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by the delegate.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// IdentityResolver turns a bearer token into an identity. Implementations
// return an error matching errors.ErrInvalidCredentials when the token is
// rejected and errors.ErrServiceUnavailable when it cannot be checked.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(ctx context.Context, token string) (Identity, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// ServiceResolver asks the identity-owning service who a token belongs to.
type ServiceResolver struct {
	Caller  client.Caller
	Service string
	Path    string
}

// NewServiceResolver builds a resolver calling GET service+path.
func NewServiceResolver(caller client.Caller, service, path string) *ServiceResolver {
	return &ServiceResolver{Caller: caller, Service: service, Path: path}
}

// Resolve forwards the token unchanged. Any non-2xx answer rejects it.
func (r *ServiceResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	if r.Caller == nil {
		return Identity{}, errspkg.ErrResolverRequired
	}
	resp, err := r.Caller.Call(ctx, client.Request{
		Service: r.Service,
		Path:    r.Path,
		Method:  http.MethodGet,
		Headers: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return Identity{}, err
	}
	if !resp.OK() {
		return Identity{}, fmt.Errorf("%w: %s answered %d", errspkg.ErrInvalidCredentials, r.Service, resp.StatusCode)
	}

	var attrs map[string]any
	if err := jsoncodec.UnmarshalUseNumber(resp.Body, &attrs); err != nil {
		return Identity{}, fmt.Errorf("%w: unreadable profile: %w", errspkg.ErrInvalidCredentials, err)
	}
	var subject string
	switch id := attrs["id"].(type) {
	case json.Number:
		subject = id.String()
	case string:
		subject = id
	}
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: profile has no id", errspkg.ErrInvalidCredentials)
	}
	email, _ := attrs["email"].(string)
	return Identity{SubjectID: subject, Email: email, Attributes: attrs}, nil
}
