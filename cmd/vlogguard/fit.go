package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hed1ad/vlogguard/pkg/artifact"
	"github.com/hed1ad/vlogguard/pkg/detectors/iforest"
	vcsv "github.com/hed1ad/vlogguard/pkg/io/csv"
	"github.com/hed1ad/vlogguard/pkg/profile"
)

type fitOptions struct {
	profile    string
	scalerPath string
	forestPath string
	version    string
	forest     iforest.Config
}

func newFitCmd() *cobra.Command {
	o := fitOptions{forest: iforest.DefaultConfig()}
	cmd := &cobra.Command{
		Use:   "fit NORMAL.csv",
		Short: "Fit the scaler and isolation forest on a log of normal operation",
		Long: "fit is the offline step that produces the frozen model artifacts. " +
			"The input should contain normal driving only.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd, args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.profile, "profile", "p", profile.Synthetic, "sensor profile")
	f.StringVar(&o.scalerPath, "scaler", "models/scaler.msgpack", "scaler artifact output path")
	f.StringVar(&o.forestPath, "forest", "models/forest.msgpack", "forest artifact output path")
	f.StringVar(&o.version, "model-version", "", "version tag stored in the artifacts (default: profile name)")
	f.IntVar(&o.forest.Trees, "trees", o.forest.Trees, "number of isolation trees")
	f.IntVar(&o.forest.SampleSize, "sample-size", o.forest.SampleSize, "subsample size per tree")
	f.Float64Var(&o.forest.Contamination, "contamination", o.forest.Contamination,
		"expected share of anomalies in the training data; 0 puts the threshold at the highest training score")
	f.Int64Var(&o.forest.Seed, "seed", o.forest.Seed, "random seed")
	return cmd
}

func runFit(cmd *cobra.Command, path string, o fitOptions) error {
	if err := o.forest.Validate(); err != nil {
		return err
	}
	p, err := profile.Get(o.profile)
	if err != nil {
		return err
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	table, err := vcsv.NewReader(in).Read()
	if err != nil {
		return err
	}
	frame, err := p.Schema().Validate(table)
	if err != nil {
		return err
	}
	data := make([][]float64, len(frame.Rows))
	for i, row := range frame.Rows {
		data[i] = row.Values
	}

	params, forest, err := artifact.Fit(p.Sensors, data, o.forest.Options()...)
	if err != nil {
		return err
	}

	version := o.version
	if version == "" {
		version = p.Name
	}
	for _, dir := range []string{o.scalerPath, o.forestPath} {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	if err := artifact.Save(o.scalerPath, o.forestPath, version, params, forest); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(out, "fitted %s on %d rows\n", version, len(data))
	fmt.Fprintf(out, "threshold: %.4f\n", forest.Threshold())
	fmt.Fprintf(out, "scaler:    %s\nforest:    %s\n", o.scalerPath, o.forestPath)
	return nil
}
