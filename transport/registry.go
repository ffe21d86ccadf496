package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

var (
	// ErrConfigRequired is returned by Build without a config.
	ErrConfigRequired = errors.New("transport: config is required")
	// ErrUnknownTransport is returned for a PubSubSystem nothing registered.
	ErrUnknownTransport = errors.New("transport: unknown transport")
	// ErrNoFanOut is returned for media registered as point-to-point. The
	// event bus needs every service to see every event.
	ErrNoFanOut = errors.New("transport: medium does not fan out")
)

type entry struct {
	build Builder
	caps  *Capabilities
}

// Registry maps PubSubSystem names to builders. Names are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// DefaultRegistry is the registry the transport packages register with.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register adds or replaces the builder for name without declaring
// capabilities.
func (r *Registry) Register(name string, builder Builder) {
	r.set(name, entry{build: builder})
}

// RegisterWithCapabilities adds or replaces the builder for name together
// with what the medium guarantees.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.set(name, entry{build: builder, caps: &caps})
}

func (r *Registry) set(name string, e entry) {
	if e.build == nil {
		panic("transport: nil builder for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalize(name)] = e
}

// GetCapabilities returns what the named medium declared, or a zero value
// carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[normalize(name)]; ok && e.caps != nil {
		return *e.caps
	}
	return Capabilities{Name: name}
}

// Build constructs the medium selected by cfg.GetPubSubSystem. Builder errors
// are returned unchanged.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, ErrConfigRequired
	}
	name := normalize(cfg.GetPubSubSystem())

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return Transport{}, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownTransport, name, strings.Join(r.Names(), ", "))
	}
	if e.caps != nil && !e.caps.SupportsFanOut {
		return Transport{}, fmt.Errorf("%w: %q", ErrNoFanOut, name)
	}
	return e.build(ctx, cfg, logger)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[normalize(name)]
	return ok
}

// Register adds a builder to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build constructs a medium from DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
