// Command mg-fastqc runs the FastQC read-quality stage standalone.
//
// Usage:
//
//	mg-fastqc [options] -i raw-sequence-dir -o pipeline-root
//
// By default the initial FastQC stage runs against the raw sequences;
// with --final the post-filtering FastQC stage runs against the
// processed sequences instead.
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

	final bool
)

var rootCmd = &cobra.Command{
	Use:           "mg-fastqc [options] -i raw-sequence-dir -o pipeline-root",
	Short:         "Run the FastQC read-quality stage",
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cli.AddSchedulerFlags(rootCmd, &schedOpts)
	cli.AddRootFlags(rootCmd, &rootOpts)

	rootCmd.Flags().BoolVar(&final, "final", false,
		"run the post-filtering FastQC stage instead of the initial one")
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

	stage := layout.FastQCInitial
	if final {
		stage = layout.FastQCFinal
	}
	return r.RunStage(context.Background(), stage)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cli.Fatal(err)
		os.Exit(1)
	}
}
