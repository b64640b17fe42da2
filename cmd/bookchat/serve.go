package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/bookchat/pkg/identity"
	"github.com/go-go-golems/bookchat/pkg/server"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(settings, identity.ContextResolver{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			options := []server.Option{
				server.WithAddr(settings.Server.Host, settings.Server.Port),
				server.WithTimeouts(settings.Server.ReadTimeout, settings.Server.ShutdownTimeout),
				server.WithEventRouter(a.router),
			}
			if settings.Server.Metrics {
				options = append(options, server.WithMetrics(a.metrics))
			}
			if a.grapher != nil {
				options = append(options, server.WithGrapher(a.grapher))
			}
			return server.New(a.coordinator, options...).Run(ctx)
		},
	}
	cmd.Flags().String("host", "127.0.0.1", "listen host")
	cmd.Flags().Int("port", 8080, "listen port")
	flagKeys["host"] = "server.host"
	flagKeys["port"] = "server.port"
	return cmd
}
