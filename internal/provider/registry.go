// Package provider implements the synthesis backend arena: a runtime
// registry of named text-to-speech providers built from configuration.
package provider

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/book-expert/logger"

	"github.com/tariq126/TTS-project/internal/config"
	"github.com/tariq126/TTS-project/internal/core"
)

// Provider kinds supported by the registry.
const (
	KindOpenAI     = "openai"
	KindElevenLabs = "elevenlabs"
)

const defaultRequestTimeout = 60 * time.Second

// Registry resolves provider ids to synthesis backends.
type Registry struct {
	providers map[string]core.Provider
	log       *logger.Logger
}

// NewRegistry builds the provider arena from configuration. A provider whose
// API key environment variable is unset is skipped with a warning rather
// than failing the whole service, so a partially configured deployment can
// still serve the providers it has credentials for.
func NewRegistry(
	configs map[string]config.ProviderConfig,
	log *logger.Logger,
) (*Registry, error) {
	registry := &Registry{
		providers: make(map[string]core.Provider, len(configs)),
		log:       log,
	}

	for name, providerCfg := range configs {
		backend, err := buildProvider(providerCfg)
		if err != nil {
			log.Warn("Skipping provider '%s': %v", name, err)

			continue
		}

		registry.providers[name] = backend
	}

	log.Info("Provider registry initialized with %d provider(s).", len(registry.providers))

	return registry, nil
}

func buildProvider(providerCfg config.ProviderConfig) (core.Provider, error) {
	apiKey := os.Getenv(providerCfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: environment variable '%s' is not set",
			ErrAPIKeyMissing, providerCfg.APIKeyEnv)
	}

	switch providerCfg.Kind {
	case KindOpenAI:
		return NewOpenAIProvider(providerCfg.BaseURL, apiKey, providerCfg.Model,
			providerCfg.Voices, defaultRequestTimeout), nil
	case KindElevenLabs:
		return NewElevenLabsProvider(providerCfg.BaseURL, apiKey, providerCfg.Model,
			providerCfg.Voices, defaultRequestTimeout), nil
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownProviderKind, providerCfg.Kind)
	}
}

// Get resolves a provider id, failing with core.ErrProviderNotFound if the
// id is not registered.
func (r *Registry) Get(name string) (core.Provider, error) {
	backend, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", core.ErrProviderNotFound, name)
	}

	return backend, nil
}

// Names lists the registered provider ids in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
