package app

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/vk/componentd/internal/broker"
	"github.com/vk/componentd/internal/ctxlog"
	"github.com/vk/componentd/internal/dispatch"
	"github.com/vk/componentd/internal/server"
)

// stdio is a ReadWriter joining the process's standard streams, used when the
// engine launches the provider as a child process and speaks over pipes.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// Run starts a provider session and serves it until the context is canceled.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if appConfig.HealthcheckPort > 0 {
		go a.startHealthcheckServer(appConfig.HealthcheckPort)
	}

	dispatcher := dispatch.New(a.registry)
	srv := server.New(broker.New(dispatcher))
	a.logger.Info("Provider session opened.", "session", dispatcher.Session(), "components", len(a.registry.Definitions))

	if appConfig.Listen == "stdio" {
		a.logger.Debug("Serving on standard streams.")
		return srv.ServeConn(ctx, stdio{})
	}

	ln, err := net.Listen("tcp", appConfig.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", appConfig.Listen, err)
	}
	a.logger.Info("🚀 Provider listening.", "address", ln.Addr().String())
	return srv.Serve(ctx, ln)
}
