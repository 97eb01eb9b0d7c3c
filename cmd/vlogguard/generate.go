package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hed1ad/vlogguard/pkg/synth"
)

func newGenerateCmd() *cobra.Command {
	var (
		cfg     synth.Config
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic vehicle log for the synthetic profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := synth.Generate(cfg)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				if err := ensureDir(outPath); err != nil {
					return err
				}
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return synth.WriteCSV(out, recs)
		},
	}
	cmd.Flags().IntVarP(&cfg.Rows, "rows", "n", 5000, "number of rows")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 1, "random seed")
	cmd.Flags().BoolVar(&cfg.Inject, "inject", false, "inject thermostat, alternator and brake faults")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	return cmd
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
