package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
)

// Factory builds one chat provider from config. Validate and Status are
// optional; Status reports whether credentials are present and which mode
// they use.
type Factory struct {
	Build    func(cfg *config.Config) (LLMProvider, error)
	Validate func(cfg *config.Config) error
	Status   func(cfg *config.Config) (configured bool, mode string)
}

type registry struct {
	mu      sync.RWMutex
	byName  map[string]Factory
	invalid error
}

func newRegistry() *registry {
	return &registry{byName: make(map[string]Factory)}
}

var defaultRegistry = newRegistry()

// Register adds a provider under name. A factory without Build is recorded as
// a registration error that every later lookup returns.
func Register(name string, f Factory) {
	defaultRegistry.register(name, f)
}

func (r *registry) register(name string, f Factory) {
	name = NormalizeProviderName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.Build == nil {
		r.invalid = errors.Join(r.invalid, fmt.Errorf("providers: %q registered without a build func", name))
		return
	}
	r.byName[name] = f
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *registry) lookup(name string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.byName[name]
	invalid := r.invalid
	r.mu.RUnlock()

	if invalid != nil {
		return Factory{}, fmt.Errorf("provider registration failed: %w", invalid)
	}
	if !ok {
		return Factory{}, fmt.Errorf("unsupported provider %q: supported providers are %s", name, strings.Join(r.names(), ", "))
	}
	return f, nil
}

func SupportedProviders() []string {
	return defaultRegistry.names()
}

// NormalizeProviderName lowercases name; an empty name selects openai.
func NormalizeProviderName(name string) string {
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		return name
	}
	return ProviderOpenAI
}

func ActiveProviderName(cfg *config.Config) string {
	if cfg == nil {
		return ProviderOpenAI
	}
	return NormalizeProviderName(cfg.Agent.Provider)
}

func ValidateProviderConfig(cfg *config.Config) error {
	f, err := defaultRegistry.lookup(ActiveProviderName(cfg))
	if err != nil || f.Validate == nil {
		return err
	}
	return f.Validate(cfg)
}

// ProviderCredentialStatus reports the active provider and whether its
// credentials are set. err is non-nil only when the provider is unknown.
func ProviderCredentialStatus(cfg *config.Config) (provider string, configured bool, mode string, err error) {
	provider = ActiveProviderName(cfg)
	f, err := defaultRegistry.lookup(provider)
	if err != nil {
		return "", false, "", err
	}
	switch {
	case f.Status != nil:
		configured, mode = f.Status(cfg)
	case f.Validate != nil:
		configured = f.Validate(cfg) == nil
	default:
		configured = true
	}
	return provider, configured, mode, nil
}

func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	f, err := defaultRegistry.lookup(ActiveProviderName(cfg))
	if err != nil {
		return nil, err
	}
	return f.Build(cfg)
}
