package app

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/config"
	"github.com/illuscio-dev/spanrest-go/store/memory"
)

type checkCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
}

func newCheckCommandeer(rootCommandeer *RootCommandeer) *checkCommandeer {
	commandeer := &checkCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the routes it serves",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return xerrors.Errorf("failed to initialize root: %w", err)
			}

			return commandeer.check(cmd)
		},
	}

	commandeer.cmd = cmd

	return commandeer
}

func (cc *checkCommandeer) check(cmd *cobra.Command) error {
	registry, resources, err := config.Build(cc.rootCommandeer.loggerInstance, cc.rootCommandeer.config)
	if err != nil {
		return xerrors.Errorf("invalid configuration: %w", err)
	}

	// nothing is read while checking, so the memory store stands in for the database
	server, err := cc.rootCommandeer.createServer(registry, resources, memory.NewStore(registry))
	if err != nil {
		return err
	}

	routes, err := server.Routes()
	if err != nil {
		return xerrors.Errorf("failed to list routes: %w", err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "PATTERN\tRESOURCE\tMETHODS")
	for _, route := range routes {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", route.Pattern, route.Resource, strings.Join(route.Methods, ","))
	}
	return writer.Flush()
}
