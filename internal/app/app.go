package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/componentd/internal/ctxlog"
	"github.com/vk/componentd/internal/manifest"
	"github.com/vk/componentd/internal/registry"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ComponentsPath  string
	Listen          string
	HealthcheckPort int
	LogFormat       string
	LogLevel        string
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	model    *manifest.Model
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
func NewApp(outW io.Writer, appConfig *Config, modules ...registry.Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	// Load the component manifests into the resolved model first.
	model, err := manifest.LoadDir(ctx, appConfig.ComponentsPath)
	if err != nil {
		// A failure to load manifests is a fatal startup error.
		panic(fmt.Errorf("failed to load component manifests: %w", err))
	}
	logger.Debug("Component manifests loaded.", "components", len(model.Components))

	// Create and populate the registry with Go handlers.
	reg := registry.New()
	if len(modules) == 0 {
		modules = coreComponents
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go component modules registered.", "count", len(modules))

	// Bind the manifest definitions to the registered handlers.
	reg.PopulateDefinitionsFromModel(model)
	logger.Debug("Registry definitions populated from manifest model.")

	// Validate the integrity of the registry.
	if err := reg.ValidateRegistry(ctx); err != nil {
		// This is a programmer error (mismatch between code and manifests), so we panic.
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		model:    model,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
