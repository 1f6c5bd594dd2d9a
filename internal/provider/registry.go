package provider

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Factory builds an adapter. It should validate credentials and return a
// *ConfigError when they are missing or malformed.
type Factory func() (Adapter, error)

type adapterKey struct {
	channel domain.Channel
	name    string
}

func (k adapterKey) String() string { return k.channel.String() + ":" + k.name }

// Registry maps (channel, provider name) to adapters. Adapters are built on
// first request and memoized for the life of the process; a failed build is
// not cached, so fixing configuration and retrying works. Factories run
// outside the registry lock, one build per pair at a time.
type Registry struct {
	mu        sync.Mutex
	factories map[adapterKey]Factory
	defaults  map[domain.Channel]string
	instances map[adapterKey]Adapter

	builds singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[adapterKey]Factory),
		defaults:  make(map[domain.Channel]string),
		instances: make(map[adapterKey]Adapter),
	}
}

// Register adds a factory. Registering the same pair twice replaces the
// factory but keeps any instance already built.
func (r *Registry) Register(channel domain.Channel, name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[adapterKey{channel: channel, name: normalizeName(name)}] = factory
}

// SetDefault selects the provider used when a request names none.
func (r *Registry) SetDefault(channel domain.Channel, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defaults[channel] = normalizeName(name)
}

func (r *Registry) DefaultProvider(channel domain.Channel) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.defaults[channel]
}

// ResolveName returns name normalized, or the channel default when empty.
func (r *Registry) ResolveName(channel domain.Channel, name string) string {
	if normalized := normalizeName(name); normalized != "" {
		return normalized
	}
	return r.DefaultProvider(channel)
}

// Adapter returns the memoized adapter for the pair, building it on first use.
func (r *Registry) Adapter(channel domain.Channel, name string) (Adapter, error) {
	resolved := r.ResolveName(channel, name)
	if resolved == "" {
		return nil, configErrorf(channel, "", "no provider requested and no default configured")
	}
	key := adapterKey{channel: channel, name: resolved}

	if adapter, ok := r.instance(key); ok {
		return adapter, nil
	}

	r.mu.Lock()
	factory, ok := r.factories[key]
	r.mu.Unlock()
	if !ok {
		return nil, configErrorf(channel, resolved, "unsupported provider")
	}

	built, err, _ := r.builds.Do(key.String(), func() (any, error) {
		// A build that finished after the lookup above is reused.
		if adapter, ok := r.instance(key); ok {
			return adapter, nil
		}

		adapter, err := factory()
		if err != nil {
			return nil, asConfigError(channel, resolved, err)
		}
		if adapter == nil {
			return nil, configErrorf(channel, resolved, "factory returned no adapter")
		}

		r.mu.Lock()
		r.instances[key] = adapter
		r.mu.Unlock()
		return adapter, nil
	})
	if err != nil {
		return nil, err
	}
	return built.(Adapter), nil
}

func (r *Registry) instance(key adapterKey) (Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	adapter, ok := r.instances[key]
	return adapter, ok
}

// PushAdapter returns the push adapter for name, or the push default.
func (r *Registry) PushAdapter(name string) (PushAdapter, error) {
	adapter, err := r.Adapter(domain.ChannelPush, name)
	if err != nil {
		return nil, err
	}

	push, ok := adapter.(PushAdapter)
	if !ok {
		return nil, configErrorf(domain.ChannelPush, adapter.Name(), "adapter does not support multicast and topics")
	}
	return push, nil
}

// SupportedProviders lists the registered provider names for channel without
// building any adapter.
func (r *Registry) SupportedProviders(channel domain.Channel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.factories))
	for key := range r.factories {
		if key.channel == channel {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}

func asConfigError(channel domain.Channel, name string, err error) error {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr
	}
	return &ConfigError{Channel: channel, Provider: name, Message: "failed to initialize adapter", Cause: err}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func requireSetting(channel domain.Channel, name string, field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return configErrorf(channel, name, "%s is required", field)
	}
	return nil
}
