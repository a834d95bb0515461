// Package pipeline sequences the processing stages of one pipeline
// invocation.
//
// The orchestrator itself is strictly sequential: each stage's job is
// submitted and waited on before the next stage's directories are
// created. Fan-out across samples happens inside the scheduler's array
// mechanism, never here. Stage directories double as the dependency
// signal between stages, so a skipped stage still gets its directory
// tree created.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mgpipe/mgpipe/layout"
	"github.com/mgpipe/mgpipe/samples"
	"github.com/mgpipe/mgpipe/scheduler"
)

// ShapeMode describes how a stage consumes its per-sample input.
type ShapeMode int

const (
	// ShapePaired consumes an R1 and an R2 file per array index.
	ShapePaired ShapeMode = iota

	// ShapeMerged consumes one single-file sample per array index.
	ShapeMerged

	// ShapeJoined concatenates the pair into a temporary joined file
	// that is removed after use.
	ShapeJoined
)

// Config carries everything one pipeline invocation needs.
type Config struct {
	// Root is the pipeline output tree.
	Root string

	// RawDir is the raw input sequence directory.
	RawDir string

	// Mode is the layout variant, detected once at startup.
	Mode layout.Mode

	// Merge enables the read-merging stage; downstream stages then
	// consume merged single files.
	Merge bool

	// Skip lists stages to skip. Skipped stages still get their
	// output directories created.
	Skip map[layout.Stage]bool

	// Scheduler resources, applied to every stage job.
	Partition   string
	Time        time.Duration
	CPUs        int
	MemPerCPUMB int
	NotifyEmail string
	EnvActivate string

	// Reference and database locations.
	HostReference string
	Kraken2DB     string
	MetaphlanDB   string
	HumannNucDB   string
	HumannProtDB  string
}

// Runner executes the configured stages against a submitter.
type Runner struct {
	cfg  Config
	sub  scheduler.Submitter
	smp  []samples.Sample
	log  *log.Logger
	logF *os.File
}

// NewRunner resolves the raw samples and opens the run log.
func NewRunner(cfg Config, sub scheduler.Submitter) (*Runner, error) {
	smp, err := samples.Resolve(cfg.RawDir)
	if err != nil {
		return nil, err
	}

	r := &Runner{cfg: cfg, sub: sub, smp: smp}
	fid, err := os.OpenFile(filepath.Join(cfg.Root, "pipeline.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening pipeline log: %w", err)
	}
	r.logF = fid
	r.log = log.New(fid, "", log.Ltime)
	return r, nil
}

// Close releases the run log.
func (r *Runner) Close() error {
	return r.logF.Close()
}

// Samples returns the resolved sample list.
func (r *Runner) Samples() []samples.Sample {
	return r.smp
}

// merged reports whether per-sample sequences are single files at the
// point downstream stages read them: either the merge stage is enabled
// or the raw input was already merged.
func (r *Runner) merged() bool {
	return r.cfg.Merge || (len(r.smp) > 0 && !r.smp[0].Paired())
}

// Run executes every addressable stage in order.
func (r *Runner) Run(ctx context.Context) error {
	for _, stage := range layout.Stages {
		if r.cfg.Mode == layout.Compacted {
			switch stage {
			case layout.FastQCFinal, layout.TaxonomicProfiling, layout.FunctionalProfiling:
			default:
				continue
			}
		}
		if stage == layout.Merge && !r.cfg.Merge {
			// The merge directory still gets created so the numbering
			// holds, the same as any skipped stage.
			if _, err := layout.EnsureStageDir(r.cfg.Root, stage, r.cfg.Mode); err != nil {
				return err
			}
			r.log.Printf("stage %s disabled", stage)
			continue
		}
		if err := r.RunStage(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

// RunStage executes one stage: directory creation, skip handling, input
// resolution, submission, and result inspection.
func (r *Runner) RunStage(ctx context.Context, stage layout.Stage) error {
	outDir, err := layout.EnsureStageDir(r.cfg.Root, stage, r.cfg.Mode)
	if err != nil {
		return err
	}

	if r.cfg.Skip[stage] {
		r.log.Printf("stage %s skipped", stage)
		return nil
	}

	specs, err := r.stageSpecs(stage, outDir)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		r.log.Printf("stage %s: submitting %s (array=%d)", stage, spec.Name, spec.ArraySize)
		fmt.Printf("Submitting %s\n", spec.Name)

		res, err := r.sub.Submit(ctx, spec)
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		if err := res.Err(); err != nil {
			r.log.Printf("stage %s: %v", stage, err)
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		r.log.Printf("stage %s: job %s finished", stage, res.JobID)
	}
	return nil
}

// stageSpecs dispatches to the per-stage executors.
func (r *Runner) stageSpecs(stage layout.Stage, outDir string) ([]scheduler.JobSpec, error) {
	in, err := r.resolveInputs(stage)
	if err != nil {
		return nil, err
	}

	switch stage {
	case layout.FastQCInitial, layout.FastQCFinal:
		return r.fastqcSpecs(stage, in, outDir)
	case layout.Merge:
		return r.mergeSpecs(in, outDir)
	case layout.QC:
		return r.qcSpecs(in, outDir)
	case layout.Decontam:
		return r.decontamSpecs(in, outDir)
	case layout.EntropyFilter:
		return r.entropySpecs(in, outDir)
	case layout.TaxonomicProfiling:
		return r.taxonomicSpecs(in, outDir)
	case layout.FunctionalProfiling:
		return r.functionalSpecs(in, outDir)
	}
	return nil, fmt.Errorf("no executor for stage %s", stage)
}

// inputSet is a stage's resolved input files at submission time.
type inputSet struct {
	dir   string
	files []string
	pairs []string
	shape ShapeMode
}

// resolveInputs re-globs the stage's input directory. The file list is
// rebuilt and re-sorted here rather than carried over from planning, so
// the fan-out count always reflects what is actually on disk, and a
// drift from the resolved sample count is caught before submission.
func (r *Runner) resolveInputs(stage layout.Stage) (*inputSet, error) {
	dir, err := layout.InputDir(r.cfg.Root, stage, r.cfg.Mode, r.cfg.RawDir, r.cfg.Merge)
	if err != nil {
		return nil, err
	}

	ext := "fastq.gz"
	if dir == r.cfg.RawDir && len(r.smp) > 0 {
		ext = r.smp[0].Ext
	}

	// FastQC runs once per file, pairing and merging aside.
	if stage == layout.FastQCInitial || stage == layout.FastQCFinal {
		files, err := globSorted(dir, "*."+ext)
		if err != nil {
			return nil, err
		}
		files = excludeRecords(files)
		if len(files) == 0 {
			return nil, fmt.Errorf("stage %s: no *.%s files in %s", stage, ext, dir)
		}
		return &inputSet{dir: dir, files: files, shape: ShapeMerged}, nil
	}

	merged := r.merged()
	if stage == layout.Merge || (stage == layout.QC && !r.cfg.Merge) {
		// These read the raw inputs, which are paired whenever the
		// samples are.
		merged = len(r.smp) > 0 && !r.smp[0].Paired()
	}

	if merged {
		files, err := globSorted(dir, "*."+ext)
		if err != nil {
			return nil, err
		}
		files = excludeRecords(files)
		if len(files) != len(r.smp) {
			return nil, fmt.Errorf("stage %s: %d input files in %s for %d samples", stage, len(files), dir, len(r.smp))
		}
		return &inputSet{dir: dir, files: files, shape: ShapeMerged}, nil
	}

	files, err := globSorted(dir, "*_R1*."+ext)
	if err != nil {
		return nil, err
	}
	files = excludeRecords(files)
	if len(files) != len(r.smp) {
		return nil, fmt.Errorf("stage %s: %d R1 files in %s for %d samples", stage, len(files), dir, len(r.smp))
	}
	pairs := make([]string, len(files))
	for i, f := range files {
		p := strings.Replace(f, "_R1", "_R2", 1)
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("stage %s: missing mate for %s: %w", stage, f, err)
		}
		pairs[i] = p
	}
	return &inputSet{dir: dir, files: files, pairs: pairs, shape: ShapePaired}, nil
}

func globSorted(dir, pattern string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// excludeRecords drops extracted-read records so stage inputs only
// cover the surviving sequences.
func excludeRecords(files []string) []string {
	var out []string
	for _, f := range files {
		base := filepath.Base(f)
		if strings.Contains(base, "_host_reads") || strings.Contains(base, "_low_complexity_reads") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// baseSpec fills the resource fields every stage job shares.
func (r *Runner) baseSpec(name, outDir string) scheduler.JobSpec {
	return scheduler.JobSpec{
		Name:        name,
		Partition:   r.cfg.Partition,
		Time:        r.cfg.Time,
		CPUs:        r.cfg.CPUs,
		MemPerCPUMB: r.cfg.MemPerCPUMB,
		NotifyEmail: r.cfg.NotifyEmail,
		Setup:       r.cfg.EnvActivate,
		ErrorDir:    filepath.Join(outDir, layout.ErrorOutDir),
		OutputDir:   filepath.Join(outDir, layout.OutputDir0),
	}
}

// arraySpec builds a per-sample fan-out job over the input set.
func (r *Runner) arraySpec(name, outDir string, in *inputSet) scheduler.JobSpec {
	spec := r.baseSpec(name, outDir)
	spec.ArraySize = len(in.files)
	spec.Files = in.files
	spec.PairFiles = in.pairs
	return spec
}
