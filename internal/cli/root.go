package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	RootDir string // base directory substituted for / in all paths
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// CalledAsGenerator reports whether argv0 indicates the init-system
// generator calling convention.
func CalledAsGenerator(argv0 string) bool {
	return strings.Contains(argv0, "systemd/system-generators/")
}

// NewRootCommand creates the root command for the netgen CLI. The root
// command itself runs generation; generatorDefault preselects the
// generator calling convention (detected from argv[0] by main).
func NewRootCommand(generatorDefault bool) *cobra.Command {
	opts := &RootOptions{}
	genOpts := &GenerateOptions{RootOptions: opts}

	cmd := &cobra.Command{
		Use:   "netgen [config file ...]",
		Short: "Generate backend network configuration from layered YAML sources",
		Long: `netgen reads the specified network definition file(s) or, if none
are given, lib/netplan/*.yaml, etc/netplan/*.yaml and run/netplan/*.yaml
(later directories shadow same-named files in earlier ones). It then
generates the corresponding systemd-networkd and NetworkManager
configuration under /run.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(genOpts, args, cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.RootDir, "root-dir", "r", "/", "search for and generate configuration files under this root instead of /")

	cmd.Flags().BoolVar(&genOpts.Generator, "generator", generatorDefault, "run under the init-system generator calling convention")
	_ = cmd.Flags().MarkHidden("generator")

	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
