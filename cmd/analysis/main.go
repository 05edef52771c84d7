// Command analysis builds, queries and inspects sparse bloom filter snapshots.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// app carries the state shared by every subcommand. It is populated by the
// root command's PersistentPreRunE once flags have been parsed.
type app struct {
	configPath string
	verbose    bool
	quiet      bool

	cfg *Config
	log *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "analysis",
		Short: "Build, query and size sparse bloom filters",
		Long: `analysis works with sparse bloom filter snapshots.

Commands:
  analyze   Report size and false positive rate for each key width
  build     Insert lines from a file or stdin and write a snapshot
  query     Test values against a snapshot
  merge     Union snapshots built with the same settings`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = newLogger(cmd.ErrOrStderr(), cfg.LogFormat, a.verbose, a.quiet)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./.sparsebloom.yaml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "only log errors")
	pf.String("log-format", defaultLogFormat, "log format (text or json)")

	root.AddCommand(
		a.analyzeCommand(),
		a.buildCommand(),
		a.queryCommand(),
		a.mergeCommand(),
		versionCommand(),
	)

	return root
}

// addFilterFlags registers the flags that choose how a filter is built and
// stored. Unset flags fall back to the config file and environment.
func addFilterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("size", defaultSize, "filter size (KeyBytes1..KeyBytes5, or 1..5)")
	f.String("hash", defaultHash, "fingerprint hash (xxh3, xxhash64, murmur3)")
	f.String("compression", defaultCompression, "snapshot compression (none, lz4, zstd)")
}
