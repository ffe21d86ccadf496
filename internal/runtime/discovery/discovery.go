// Package discovery maps logical service names to base URLs. The table is
// built once at startup and never changes, so lookups take no locks.
package discovery

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
)

// Registry is a read-only service name to base URL table.
type Registry struct {
	entries map[string]*url.URL
}

// New validates and copies entries. Base URLs must be absolute.
func New(entries map[string]string) (*Registry, error) {
	r := &Registry{entries: make(map[string]*url.URL, len(entries))}
	for name, base := range entries {
		if name == "" {
			return nil, fmt.Errorf("discovery: empty service name for %q", base)
		}
		u, err := url.Parse(strings.TrimRight(base, "/"))
		if err != nil {
			return nil, fmt.Errorf("discovery: %s: %w", name, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("discovery: %s: base URL %q must be absolute", name, base)
		}
		r.entries[name] = u
	}
	return r, nil
}

// Resolve returns the base URL for name.
func (r *Registry) Resolve(name string) (string, error) {
	u, err := r.ResolveURL(name)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ResolveURL returns a copy of the parsed base URL for name.
func (r *Registry) ResolveURL(name string) (*url.URL, error) {
	if r != nil {
		if u, ok := r.entries[name]; ok {
			clone := *u
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownService, name)
}

// Endpoint joins path onto the base URL of name. path may carry a query.
func (r *Registry) Endpoint(name, path string) (string, error) {
	base, err := r.ResolveURL(name)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("discovery: invalid path %q: %w", path, err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	base.RawQuery = ref.RawQuery
	return base.String(), nil
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
