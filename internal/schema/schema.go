package schema

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// --- Component Manifest Schemas ---

// Lifecycle maps a component's construct event to a registered Go handler.
type Lifecycle struct {
	Construct string `hcl:"construct"`
}

// InputDefinition defines a single input property of a component or method.
type InputDefinition struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Description string         `hcl:"description,optional"`
	Default     *cty.Value     `hcl:"default,optional"`
	Optional    bool           `hcl:"optional,optional"`
	Secret      bool           `hcl:"secret,optional"`
}

// OutputDefinition defines a single output property produced by a component
// or method.
type OutputDefinition struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Description string         `hcl:"description,optional"`
	Secret      bool           `hcl:"secret,optional"`
}

// MethodDefinition defines a named method callable on a constructed component
// instance. Atomic methods have all-or-nothing result semantics: any field
// failure fails the whole call.
type MethodDefinition struct {
	Name        string              `hcl:"name,label"`
	Handler     string              `hcl:"handler"`
	Description string              `hcl:"description,optional"`
	Atomic      bool                `hcl:"atomic,optional"`
	Inputs      []*InputDefinition  `hcl:"input,block"`
	Outputs     []*OutputDefinition `hcl:"output,block"`
}

// ComponentDefinition represents the HCL manifest for a component resource
// type. The label is the type token callers use in Construct requests.
type ComponentDefinition struct {
	Token       string              `hcl:"token,label"`
	Description string              `hcl:"description,optional"`
	Lifecycle   *Lifecycle          `hcl:"lifecycle,block"`
	Inputs      []*InputDefinition  `hcl:"input,block"`
	Outputs     []*OutputDefinition `hcl:"output,block"`
	Methods     []*MethodDefinition `hcl:"method,block"`
}

// ManifestConfig represents the top-level structure of a component manifest
// file. A file may declare any number of components.
type ManifestConfig struct {
	Components []*ComponentDefinition `hcl:"component,block"`
	Body       hcl.Body               `hcl:",remain"`
}
