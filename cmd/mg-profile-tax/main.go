// Command mg-profile-tax runs the taxonomic-profiling stage standalone:
// per-sample kraken2/bracken and metaphlan profiles, then a merge job
// that combines the per-sample tables.
//
// Usage:
//
//	mg-profile-tax [options] --kraken2-db dir --metaphlan-db dir \
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

	merged      bool
	kraken2DB   string
	metaphlanDB string
)

var rootCmd = &cobra.Command{
	Use:           "mg-profile-tax [options] --kraken2-db dir --metaphlan-db dir -i raw-sequence-dir -o pipeline-root",
	Short:         "Run the taxonomic-profiling stage",
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
	flags.StringVar(&kraken2DB, "kraken2-db", "",
		"kraken2 database directory (required)")
	flags.StringVar(&metaphlanDB, "metaphlan-db", "",
		"metaphlan bowtie2 database directory (required)")
}

func run(cmd *cobra.Command, args []string) error {
	defaults, err := cli.LoadDefaults()
	if err != nil {
		return err
	}
	defaults.Apply(&schedOpts)
	if kraken2DB == "" {
		kraken2DB = defaults.Kraken2DB
	}
	if metaphlanDB == "" {
		metaphlanDB = defaults.MetaphlanDB
	}

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
		Kraken2DB:   kraken2DB,
		MetaphlanDB: metaphlanDB,
	}

	sub := scheduler.NewSlurm(scheduler.WithWorkDir(rootOpts.Root))
	r, err := pipeline.NewRunner(cfg, sub)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.RunStage(context.Background(), layout.TaxonomicProfiling)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cli.Fatal(err)
		os.Exit(1)
	}
}
