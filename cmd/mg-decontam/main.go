// Command mg-decontam runs the host-decontamination stage standalone,
// mapping reads against a host reference and extracting the matches.
//
// Usage:
//
//	mg-decontam [options] --host-ref ref.fa -i raw-sequence-dir -o pipeline-root
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

	merged  bool
	hostRef string
)

var rootCmd = &cobra.Command{
	Use:           "mg-decontam [options] --host-ref ref.fa -i raw-sequence-dir -o pipeline-root",
	Short:         "Run the host-decontamination stage",
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cli.AddSchedulerFlags(rootCmd, &schedOpts)
	cli.AddRootFlags(rootCmd, &rootOpts)

	flags := rootCmd.Flags()
	flags.BoolVarP(&merged, "merge", "m", false,
		"samples are merged single files")
	flags.StringVar(&hostRef, "host-ref", "",
		"host reference sequence (required)")
}

func run(cmd *cobra.Command, args []string) error {
	defaults, err := cli.LoadDefaults()
	if err != nil {
		return err
	}
	defaults.Apply(&schedOpts)
	if hostRef == "" {
		hostRef = defaults.HostReference
	}

	if err := rootOpts.Validate(); err != nil {
		return err
	}
	if err := schedOpts.Validate(); err != nil {
		return err
	}

	cfg := pipeline.Config{
		Root:          rootOpts.Root,
		RawDir:        rootOpts.Input,
		Mode:          layout.Detect(rootOpts.Root),
		Merge:         merged,
		Partition:     schedOpts.Partition,
		Time:          schedOpts.Time,
		CPUs:          schedOpts.CPUs,
		MemPerCPUMB:   schedOpts.MemPerCPUMB,
		NotifyEmail:   schedOpts.NotifyEmail,
		EnvActivate:   schedOpts.EnvActivate,
		HostReference: hostRef,
	}

	sub := scheduler.NewSlurm(scheduler.WithWorkDir(rootOpts.Root))
	r, err := pipeline.NewRunner(cfg, sub)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.RunStage(context.Background(), layout.Decontam)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cli.Fatal(err)
		os.Exit(1)
	}
}
