package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modwire"
	"github.com/GoCodeAlone/modwire/descriptor"
	"github.com/GoCodeAlone/modwire/report"
	"github.com/GoCodeAlone/modwire/resolver"
)

// NewResolveCommand creates the resolve command
func NewResolveCommand(verbose *bool) *cobra.Command {
	var (
		mandatory  bool
		jsonOutput bool
		configFile string
	)
	cmd := &cobra.Command{
		Use:   "resolve <universe>",
		Short: "Resolve a universe file and print the wiring",
		Long: `Install every module of a universe file into a fresh container, resolve
them and print the resulting wiring. The listing is ordered by module id so
the same universe always produces the same output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), "resolve", *verbose)
			return runResolve(cmd, logger, args[0], configFile, mandatory, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&mandatory, "mandatory", false, "Fail unless every module resolves")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Container configuration file (YAML or TOML)")
	return cmd
}

func runResolve(cmd *cobra.Command, logger modwire.Logger, path, configFile string, mandatory, jsonOutput bool) error {
	universe, err := descriptor.LoadUniverse(path)
	if err != nil {
		return err
	}
	cfg, err := modwire.LoadConfigFile(configFile)
	if err != nil {
		return err
	}
	c, err := modwire.NewContainer(resolver.New(resolver.WithLogger(logger)),
		modwire.WithConfig(cfg),
		modwire.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer c.Close(context.Background()) //nolint:errcheck // report already written

	mods, err := universe.Install(c)
	if err != nil {
		return err
	}
	resolveErr := c.Resolve(mods, mandatory)
	var resErr *modwire.ResolutionError
	if resolveErr != nil && !errors.As(resolveErr, &resErr) {
		return resolveErr
	}

	r := report.Build(c)
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return err
		}
	} else if err := r.WriteText(cmd.OutOrStdout()); err != nil {
		return err
	}
	if resolveErr != nil {
		return fmt.Errorf("resolve %s: %w", path, resolveErr)
	}
	return nil
}
