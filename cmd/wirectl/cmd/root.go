package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the wirectl application
func NewRootCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "wirectl",
		Short: "wirectl - Resolve and serve modwire containers",
		Long: `wirectl resolves module universes described in YAML or TOML and serves
a live container over HTTP, deploying modules from a watched directory.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(NewResolveCommand(&verbose))
	cmd.AddCommand(NewServeCommand(&verbose))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	})

	return cmd
}

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("wirectl v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
