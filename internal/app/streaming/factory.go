package streaming

import (
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Deps carries application-level collaborators a backend may need.
type Deps struct {
	OAuth  *oauth2.Config // Token refresh for OAuth-based backends
	Market string         // Catalog market
}

// Factory creates a backend from its free-form settings.
type Factory func(deps Deps, settings map[string]any) (Backend, error)

// registry holds registered backend factories.
var registry = make(map[string]Factory)

// Register registers a backend factory.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Registered returns the names of all registered backends.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend creates a backend of the given type from configuration.
func NewBackend(backendType string, deps Deps, settings map[string]any) (Backend, error) {
	factory, ok := registry[backendType]
	if !ok {
		return nil, errors.Newf("unsupported backend type: %s (available: %v)", backendType, Registered())
	}

	zlog.Debug().Msgf("creating streaming backend: type=%s", backendType)
	backend, err := factory(deps, settings)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create backend (type %s)", backendType)
	}
	return backend, nil
}
