// Command mg-qc runs the quality-control stage standalone: adapter and
// quality trimming of each sample's reads.
//
// Usage:
//
//	mg-qc [options] -i raw-sequence-dir -o pipeline-root
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/mgpipe/mgpipe/internal/cli"
	"github.com/mgpipe/mgpipe/layout"
	"github.com/mgpipe/mgpipe/pipeline"
	"github.com/mgpipe/mgpipe/scheduler"
)

var (
	schedOpts cli.SchedulerOptions
	rootOpts  cli.RootOptions

	merged bool
)

var rootCmd = &cobra.Command{
	Use:           "mg-qc [options] -i raw-sequence-dir -o pipeline-root",
	Short:         "Run the quality-control trimming stage",
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cli.AddSchedulerFlags(rootCmd, &schedOpts)
	cli.AddRootFlags(rootCmd, &rootOpts)

	rootCmd.Flags().BoolVarP(&merged, "merge", "m", false,
		"read merged single files from the merge stage's output")
}

func run(cmd *cobra.Command, args []string) error {
	defaults, err := cli.LoadDefaults()
	if err != nil {
		return err
	}
	defaults.Apply(&schedOpts)

	if err := rootOpts.Validate(); err != nil {
		return err
	}
	if err := schedOpts.Validate(); err != nil {
		return err
	}

	cfg := pipeline.Config{
		Root:        rootOpts.Root,
		RawDir:      rootOpts.Input,
		Mode:        layout.Detect(rootOpts.Root),
		Merge:       merged,
		Partition:   schedOpts.Partition,
		Time:        schedOpts.Time,
		CPUs:        schedOpts.CPUs,
		MemPerCPUMB: schedOpts.MemPerCPUMB,
		NotifyEmail: schedOpts.NotifyEmail,
		EnvActivate: schedOpts.EnvActivate,
	}

	sub := scheduler.NewSlurm(scheduler.WithWorkDir(rootOpts.Root))
	r, err := pipeline.NewRunner(cfg, sub)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.RunStage(context.Background(), layout.QC)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cli.Fatal(err)
		os.Exit(1)
	}
}
