// Package registry maps provider kinds to factories. Providers register
// themselves from an init function; the CLI builds the configured list.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensormux/pkg/config"
	"github.com/srg/sensormux/pkg/sensors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// BuildInput is handed to a Factory.
type BuildInput struct {
	Name    string
	Options *yaml.Node // zero Node when the config has no options
	Logger  *logrus.Logger
}

// Factory constructs a provider from its configuration.
type Factory func(in BuildInput) (sensors.Provider, error)

// Registry holds factories in registration order.
type Registry struct {
	mu        sync.RWMutex
	factories *orderedmap.OrderedMap[string, Factory]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{factories: orderedmap.New[string, Factory]()}
}

// Default is the registry providers add themselves to.
var Default = New()

// Register adds f to Default under kind.
func Register(kind string, f Factory) {
	Default.Register(kind, f)
}

// Register adds f under kind. It panics on an empty kind, a nil factory or a
// duplicate registration so mistakes surface at start-up.
func (r *Registry) Register(kind string, f Factory) {
	if kind == "" {
		panic("registry: empty provider kind")
	}
	if f == nil {
		panic(fmt.Sprintf("registry: nil factory for kind %q", kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories.Get(kind); exists {
		panic(fmt.Sprintf("registry: factory already registered for kind %q", kind))
	}
	r.factories.Set(kind, f)
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, r.factories.Len())
	for pair := r.factories.Oldest(); pair != nil; pair = pair.Next() {
		kinds = append(kinds, pair.Key)
	}
	return kinds
}

func (r *Registry) lookup(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories.Get(kind)
}

// Build constructs one provider per entry, in order. The position of a
// provider in the result is its proxy index.
func (r *Registry) Build(cfgs []config.ProviderConfig, logger *logrus.Logger) ([]sensors.Provider, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	providers := make([]sensors.Provider, 0, len(cfgs))
	for i := range cfgs {
		cfg := &cfgs[i]
		f, ok := r.lookup(cfg.Kind)
		if !ok {
			return nil, fmt.Errorf("providers[%d]: unknown kind %q (registered: %s)", i, cfg.Kind, strings.Join(r.Kinds(), ", "))
		}

		name := cfg.DisplayName()
		p, err := f(BuildInput{
			Name:    name,
			Options: &cfg.Options,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", name, err)
		}
		logger.WithFields(logrus.Fields{
			"index": i,
			"name":  name,
			"kind":  cfg.Kind,
		}).Debug("Built provider")
		providers = append(providers, p)
	}
	return providers, nil
}
