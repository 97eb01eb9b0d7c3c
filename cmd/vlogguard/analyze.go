package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hed1ad/vlogguard/pkg/report"
)

func newAnalyzeCmd(flags *rootFlags) *cobra.Command {
	var (
		format  string
		outPath string
		colored string
	)
	cmd := &cobra.Command{
		Use:   "analyze FILE.csv",
		Short: "Analyze one CSV log and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rep, err := a.analyzer.Analyze(cmd.Context(), f, filepath.Base(args[0]))
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			toTerminal := outPath == ""
			if outPath != "" {
				w, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer w.Close()
				out = w
			}

			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			case "text":
				return report.WriteText(out, rep, useColor(colored, toTerminal))
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or json")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().StringVar(&colored, "color", "auto", "colour text output: auto, always or never")
	return cmd
}

func useColor(mode string, toTerminal bool) bool {
	switch mode {
	case "always":
		color.NoColor = false
		return true
	case "never":
		return false
	default:
		return toTerminal && !color.NoColor
	}
}
