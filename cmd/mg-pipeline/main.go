// Command mg-pipeline runs the full metagenomics processing pipeline.
//
// Usage:
//
//	mg-pipeline [options] -i raw-sequence-dir
//
// Stages run strictly in order, each submitted as a scheduled job and
// waited on before the next begins: initial FastQC, read merging,
// quality control, host decontamination, low-complexity filtering,
// final FastQC, taxonomic profiling, and functional profiling.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mgpipe/mgpipe/compact"
	"github.com/mgpipe/mgpipe/internal/cli"
	"github.com/mgpipe/mgpipe/layout"
	"github.com/mgpipe/mgpipe/pipeline"
	"github.com/mgpipe/mgpipe/samples"
	"github.com/mgpipe/mgpipe/scheduler"
)

var (
	schedOpts cli.SchedulerOptions

	rawDir     string
	outputRoot string
	merge      bool
	deleteTmp  bool
	skipNames  []string

	hostRef      string
	kraken2DB    string
	metaphlanDB  string
	humannNucDB  string
	humannProtDB string
)

var rootCmd = &cobra.Command{
	Use:   "mg-pipeline [options] -i raw-sequence-dir",
	Short: "Run the full metagenomics processing pipeline",
	Long: `Run the full metagenomics processing pipeline.

Each stage is submitted to the cluster scheduler as an array job over
the resolved samples and waited on before the next stage starts. Stages
named with --skip still get their output directories created, so the
numbered layout stays intact and any stage can be re-run standalone
later.

Examples:

  # Full run with read merging, compacting intermediates afterwards
  mg-pipeline -i /data/run42/raw -p general -t 12h -c 8 --mem-per-cpu 4000 \
    --host-ref /refs/human.fa --kraken2-db /dbs/k2 --metaphlan-db /dbs/mpa \
    --humann-nuc-db /dbs/chocophlan --humann-prot-db /dbs/uniref -m -d

  # Re-run only profiling on an existing tree
  mg-pipeline -i /data/run42/raw -o run42_tree --skip fastqc_initial \
    --skip qc --skip decontam --skip entropy_filter --skip fastqc_final ...`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cli.AddSchedulerFlags(rootCmd, &schedOpts)

	flags := rootCmd.Flags()
	flags.StringVarP(&rawDir, "input", "i", "", "raw paired-end sequence directory (required)")
	flags.StringVarP(&outputRoot, "output", "o", "", "pipeline output tree (default: mgpipe_<timestamp>)")
	flags.BoolVarP(&merge, "merge", "m", false, "merge read pairs before quality control")
	flags.BoolVarP(&deleteTmp, "delete", "d", false, "delete intermediate directories after a successful run")
	flags.StringArrayVar(&skipNames, "skip", nil, "stage to skip (can be repeated)")

	flags.StringVar(&hostRef, "host-ref", "", "host reference sequence for decontamination")
	flags.StringVar(&kraken2DB, "kraken2-db", "", "kraken2 database directory")
	flags.StringVar(&metaphlanDB, "metaphlan-db", "", "metaphlan bowtie2 database directory")
	flags.StringVar(&humannNucDB, "humann-nuc-db", "", "humann nucleotide database directory")
	flags.StringVar(&humannProtDB, "humann-prot-db", "", "humann protein database directory")
}

func run(cmd *cobra.Command, args []string) error {
	defaults, err := cli.LoadDefaults()
	if err != nil {
		return err
	}
	defaults.Apply(&schedOpts)
	applyDatabaseDefaults(defaults)

	if rawDir == "" {
		return fmt.Errorf("a raw sequence directory is required (use --input)")
	}
	if err := schedOpts.Validate(); err != nil {
		return err
	}

	skip := map[layout.Stage]bool{}
	for _, name := range skipNames {
		s, err := layout.ByName(name)
		if err != nil {
			return err
		}
		skip[s] = true
	}

	if outputRoot == "" {
		outputRoot = "mgpipe_" + time.Now().Format("2006-01-02_150405")
	}
	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		return fmt.Errorf("creating pipeline root: %w", err)
	}

	cfg := pipeline.Config{
		Root:          outputRoot,
		RawDir:        rawDir,
		Mode:          layout.Detect(outputRoot),
		Merge:         merge,
		Skip:          skip,
		Partition:     schedOpts.Partition,
		Time:          schedOpts.Time,
		CPUs:          schedOpts.CPUs,
		MemPerCPUMB:   schedOpts.MemPerCPUMB,
		NotifyEmail:   schedOpts.NotifyEmail,
		EnvActivate:   schedOpts.EnvActivate,
		HostReference: hostRef,
		Kraken2DB:     kraken2DB,
		MetaphlanDB:   metaphlanDB,
		HumannNucDB:   humannNucDB,
		HumannProtDB:  humannProtDB,
	}

	sub := scheduler.NewSlurm(scheduler.WithWorkDir(outputRoot))
	r, err := pipeline.NewRunner(cfg, sub)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("Resolved %d samples from %s\n", len(r.Samples()), rawDir)

	if err := r.Run(context.Background()); err != nil {
		return err
	}

	if deleteTmp && cfg.Mode == layout.Expanded {
		fmt.Printf("Compacting %s\n", outputRoot)
		if err := compact.Compact(outputRoot, samples.Keys(r.Samples())); err != nil {
			return err
		}
	}

	fmt.Printf("Pipeline finished: %s\n", filepath.Clean(outputRoot))
	return nil
}

func applyDatabaseDefaults(d *cli.Defaults) {
	if hostRef == "" {
		hostRef = d.HostReference
	}
	if kraken2DB == "" {
		kraken2DB = d.Kraken2DB
	}
	if metaphlanDB == "" {
		metaphlanDB = d.MetaphlanDB
	}
	if humannNucDB == "" {
		humannNucDB = d.HumannNucDB
	}
	if humannProtDB == "" {
		humannProtDB = d.HumannProtDB
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cli.Fatal(err)
		os.Exit(1)
	}
}
