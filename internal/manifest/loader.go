package manifest

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/componentd/internal/ctxlog"
	"github.com/vk/componentd/internal/fsutil"
	"github.com/vk/componentd/internal/schema"
)

// LoadDir recursively loads every .hcl manifest under path into a model.
func LoadDir(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading component manifests.", "path", path)

	filePaths, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to walk manifest directory %s: %w", path, err)
	}
	if len(filePaths) == 0 {
		logger.Warn("No .hcl manifest files found in path.", "path", path)
		return NewModel(), nil
	}

	parser := hclparse.NewParser()
	model := NewModel()
	for _, filePath := range filePaths {
		hclFile, diags := parser.ParseHCLFile(filePath)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse manifest file %s: %w", filePath, diags)
		}
		if err := mergeFile(ctx, model, hclFile, filePath); err != nil {
			return nil, err
		}
		logger.Debug("Loaded manifest file.", "file", filePath)
	}

	logger.Info("Component manifests loaded.", "components", len(model.Components))
	return model, nil
}

// ParseSources parses in-memory manifest sources, keyed by a display name.
// Primarily used by tests that define manifests inline.
func ParseSources(ctx context.Context, sources map[string]string) (*Model, error) {
	parser := hclparse.NewParser()
	model := NewModel()
	for name, src := range sources {
		hclFile, diags := parser.ParseHCL([]byte(src), name)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", name, diags)
		}
		if err := mergeFile(ctx, model, hclFile, name); err != nil {
			return nil, err
		}
	}
	return model, nil
}

// mergeFile decodes one manifest file and merges its components into the model.
func mergeFile(ctx context.Context, model *Model, file *hcl.File, name string) error {
	var cfg schema.ManifestConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return fmt.Errorf("failed to decode manifest %s: %w", name, diags)
	}

	for _, def := range cfg.Components {
		comp, err := translateComponent(ctx, def)
		if err != nil {
			return fmt.Errorf("manifest %s: %w", name, err)
		}
		if _, exists := model.Components[comp.Token]; exists {
			return fmt.Errorf("manifest %s: component %q is already defined", name, comp.Token)
		}
		model.Components[comp.Token] = comp
	}
	return nil
}
