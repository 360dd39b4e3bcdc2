package app

import (
	"github.com/vk/componentd/components/keypair"
	"github.com/vk/componentd/components/labels"
	"github.com/vk/componentd/internal/registry"
)

// coreComponents is the definitive list of all component modules that are
// compiled into the componentd binary.
var coreComponents = []registry.Module{
	&keypair.Module{},
	&labels.Module{},
}
