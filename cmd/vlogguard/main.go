// Command vlogguard analyzes vehicle sensor logs for anomalies and explains
// the faults behind them.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate string
	gitCommit string
)

type rootFlags struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "vlogguard",
		Short:         "Anomaly detection and fault interpretation for vehicle sensor logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "dotenv files to load (default .env if present)")

	root.AddCommand(
		newAnalyzeCmd(flags),
		newServeCmd(flags),
		newFitCmd(),
		newGenerateCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgHiRed).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
