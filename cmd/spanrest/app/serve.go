package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/config"
	"github.com/illuscio-dev/spanrest-go/store"
	"github.com/illuscio-dev/spanrest-go/store/memory"
	"github.com/illuscio-dev/spanrest-go/store/postgres"
)

type serveCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	listenAddress  string
}

func newServeCommandeer(rootCommandeer *RootCommandeer) *serveCommandeer {
	commandeer := &serveCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return xerrors.Errorf("failed to initialize root: %w", err)
			}

			if commandeer.listenAddress != "" {
				rootCommandeer.config.ListenAddress = commandeer.listenAddress
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return commandeer.serve(ctx)
		},
	}

	cmd.Flags().StringVarP(&commandeer.listenAddress, "listen", "a", "", "Listen address, overriding the configuration")

	commandeer.cmd = cmd

	return commandeer
}

func (sc *serveCommandeer) serve(ctx context.Context) error {
	rootLogger := sc.rootCommandeer.loggerInstance

	registry, resources, err := config.Build(rootLogger, sc.rootCommandeer.config)
	if err != nil {
		return xerrors.Errorf("failed to build resources: %w", err)
	}

	var source store.Store
	postgresConfig := sc.rootCommandeer.config.Postgres

	if postgresConfig.DSN == "" {
		rootLogger.WarnWith("No postgres DSN configured, serving from memory")
		source = memory.NewStore(registry)
	} else {
		pool, err := postgres.Connect(ctx, rootLogger, postgresConfig.ConnString())
		if err != nil {
			return xerrors.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()

		source = postgres.NewStore(rootLogger, registry, pool)
	}

	server, err := sc.rootCommandeer.createServer(registry, resources, source)
	if err != nil {
		return err
	}

	return server.Start(ctx)
}
