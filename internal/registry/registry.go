package registry

import (
	"github.com/vk/componentd/internal/manifest"
)

// Module is the interface that all built-in component packages must implement
// to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds all the registered handlers and component definitions for a
// single provider instance.
type Registry struct {
	ConstructRegistry map[string]*RegisteredConstructor
	MethodRegistry    map[string]*RegisteredMethod
	Definitions       map[string]*manifest.Component
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		ConstructRegistry: make(map[string]*RegisteredConstructor),
		MethodRegistry:    make(map[string]*RegisteredMethod),
		Definitions:       make(map[string]*manifest.Component),
	}
}

// PopulateDefinitionsFromModel copies the loaded component definitions from
// the manifest model into the registry for easy access during dispatch.
func (r *Registry) PopulateDefinitionsFromModel(model *manifest.Model) {
	for token, def := range model.Components {
		r.Definitions[token] = def
	}
}

// Component returns the definition for a type token, if registered.
func (r *Registry) Component(token string) (*manifest.Component, bool) {
	def, ok := r.Definitions[token]
	return def, ok
}
