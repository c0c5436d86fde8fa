package app

import (
	"strings"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/config"
	"github.com/illuscio-dev/spanrest-go/encoding"
	"github.com/illuscio-dev/spanrest-go/resource"
	"github.com/illuscio-dev/spanrest-go/store"
)

var logLevels = map[string]nucliozap.Level{
	"debug":   nucliozap.DebugLevel,
	"info":    nucliozap.InfoLevel,
	"warn":    nucliozap.WarnLevel,
	"warning": nucliozap.WarnLevel,
	"error":   nucliozap.ErrorLevel,
}

type RootCommandeer struct {
	loggerInstance logger.Logger
	cmd            *cobra.Command
	configPath     string
	envFiles       []string
	logLevel       string
	config         *config.Config
}

func NewRootCommandeer() *RootCommandeer {
	commandeer := &RootCommandeer{}

	cmd := &cobra.Command{
		Use:           "spanrest [command]",
		Short:         "Serve REST resources described by a configuration file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&commandeer.configPath, "config", "c", "spanrest.yaml", "Path of the configuration file")
	cmd.PersistentFlags().StringSliceVar(&commandeer.envFiles, "env-file", []string{".env"}, "Files holding SPANREST_* overrides")
	cmd.PersistentFlags().StringVarP(&commandeer.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommandeer(commandeer).cmd,
		newCheckCommandeer(commandeer).cmd,
	)

	commandeer.cmd = cmd

	return commandeer
}

// Execute runs the command selected by os.Args
func (rc *RootCommandeer) Execute() error {
	return rc.cmd.Execute()
}

// GetCmd returns the underlying cobra command
func (rc *RootCommandeer) GetCmd() *cobra.Command {
	return rc.cmd
}

func (rc *RootCommandeer) initialize() error {
	var err error

	rc.config, err = config.Load(rc.configPath, rc.envFiles...)
	if err != nil {
		return xerrors.Errorf("failed to load configuration: %w", err)
	}

	if rc.logLevel != "" {
		rc.config.LogLevel = rc.logLevel
	}

	rc.loggerInstance, err = rc.createLogger()
	if err != nil {
		return xerrors.Errorf("failed to create logger: %w", err)
	}

	rc.loggerInstance.DebugWith("Loaded configuration",
		"path", rc.configPath,
		"models", len(rc.config.Models),
		"resources", len(rc.config.Resources))

	return nil
}

func (rc *RootCommandeer) createLogger() (logger.Logger, error) {
	loggerLevel, ok := logLevels[strings.ToLower(rc.config.LogLevel)]
	if !ok {
		return nil, xerrors.Errorf("unknown log level %q", rc.config.LogLevel)
	}

	return nucliozap.NewNuclioZapCmd("spanrest", loggerLevel, rc.cmd.ErrOrStderr())
}

// createServer builds the configured resources over source and mounts them.
func (rc *RootCommandeer) createServer(
	registry *store.Registry,
	resources []*resource.Resource,
	source store.Store,
) (*resource.Server, error) {
	engine, err := encoding.NewEngine()
	if err != nil {
		return nil, xerrors.Errorf("failed to create content engine: %w", err)
	}

	server := resource.NewServer(rc.loggerInstance, rc.config.ListenAddress, source, engine)
	if err := server.Mount(resources...); err != nil {
		return nil, xerrors.Errorf("failed to mount resources: %w", err)
	}

	rc.loggerInstance.DebugWith("Created server",
		"models", len(registry.Models()),
		"resources", len(resources))

	return server, nil
}
