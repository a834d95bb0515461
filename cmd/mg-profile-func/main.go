// Command mg-profile-func runs the functional-profiling stage
// standalone: per-sample humann runs guided by the taxonomic profiles,
// then a merge job joining the gene-family and pathway tables.
//
// Usage:
//
//	mg-profile-func [options] --humann-nuc-db dir --humann-prot-db dir \
//	    -i raw-sequence-dir -o pipeline-root
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

	merged       bool
	humannNucDB  string
	humannProtDB string
)

var rootCmd = &cobra.Command{
	Use:           "mg-profile-func [options] --humann-nuc-db dir --humann-prot-db dir -i raw-sequence-dir -o pipeline-root",
	Short:         "Run the functional-profiling stage",
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
	flags.StringVar(&humannNucDB, "humann-nuc-db", "",
		"humann nucleotide database directory (required)")
	flags.StringVar(&humannProtDB, "humann-prot-db", "",
		"humann protein database directory (required)")
}

func run(cmd *cobra.Command, args []string) error {
	defaults, err := cli.LoadDefaults()
	if err != nil {
		return err
	}
	defaults.Apply(&schedOpts)
	if humannNucDB == "" {
		humannNucDB = defaults.HumannNucDB
	}
	if humannProtDB == "" {
		humannProtDB = defaults.HumannProtDB
	}

	if err := rootOpts.Validate(); err != nil {
		return err
	}
	if err := schedOpts.Validate(); err != nil {
		return err
	}

	cfg := pipeline.Config{
		Root:         rootOpts.Root,
		RawDir:       rootOpts.Input,
		Mode:         layout.Detect(rootOpts.Root),
		Merge:        merged,
		Partition:    schedOpts.Partition,
		Time:         schedOpts.Time,
		CPUs:         schedOpts.CPUs,
		MemPerCPUMB:  schedOpts.MemPerCPUMB,
		NotifyEmail:  schedOpts.NotifyEmail,
		EnvActivate:  schedOpts.EnvActivate,
		HumannNucDB:  humannNucDB,
		HumannProtDB: humannProtDB,
	}

	sub := scheduler.NewSlurm(scheduler.WithWorkDir(rootOpts.Root))
	r, err := pipeline.NewRunner(cfg, sub)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.RunStage(context.Background(), layout.FunctionalProfiling)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cli.Fatal(err)
		os.Exit(1)
	}
}
