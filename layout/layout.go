// Package layout defines the on-disk directory convention shared by
// every pipeline stage.
//
// A pipeline root exists in one of two variants. The expanded variant
// carries the full numbered stage directories 1..8. After intermediate
// deletion the root is compacted: the early sequence-processing stages
// are folded into 2.Processed_Sequences and the trailing stages are
// renumbered. The variant is encoded nowhere but the filesystem, so it
// is detected once from the presence of the compacted directory and
// passed explicitly to everything that needs it.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Mode is the layout variant of a pipeline root.
type Mode int

const (
	// Expanded is the full 8-directory layout of a running pipeline.
	Expanded Mode = iota

	// Compacted is the layout after intermediate deletion.
	Compacted
)

func (m Mode) String() string {
	if m == Compacted {
		return "compacted"
	}
	return "expanded"
}

// Stage is one pipeline stage, ordered by execution position.
type Stage int

const (
	FastQCInitial Stage = iota + 1
	Merge
	QC
	Decontam
	EntropyFilter
	FastQCFinal
	TaxonomicProfiling
	FunctionalProfiling
)

// Stages lists all stages in execution order.
var Stages = []Stage{
	FastQCInitial, Merge, QC, Decontam,
	EntropyFilter, FastQCFinal, TaxonomicProfiling, FunctionalProfiling,
}

var stageNames = map[Stage]string{
	FastQCInitial:       "fastqc_initial",
	Merge:               "merge",
	QC:                  "qc",
	Decontam:            "decontam",
	EntropyFilter:       "entropy_filter",
	FastQCFinal:         "fastqc_final",
	TaxonomicProfiling:  "taxonomic_profiling",
	FunctionalProfiling: "functional_profiling",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ByName returns the stage with the given name.
func ByName(name string) (Stage, error) {
	for s, n := range stageNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// ProcessedDir is the directory that marks a compacted root and holds
// the final processed sequences.
const ProcessedDir = "2.Processed_Sequences"

// Subdirectories of ProcessedDir created by compaction.
const (
	LogFilesDir      = "Log_Files"
	HostSeqDir       = "Extracted_Host_Sequences"
	LowComplexSeqDir = "Extracted_Low_Complexity_Sequences"
)

// Scheduler capture directories present under every stage directory.
const (
	ErrorOutDir = "0.ErrorOut"
	OutputDir0  = "0.Output"
)

var expandedDirs = map[Stage]string{
	FastQCInitial:       "1.FastQC_Initial_Reports",
	Merge:               "2.Merged_Paired_End_Sequences",
	QC:                  "3.Quality_Controlled_Sequences",
	Decontam:            "4.Decontaminated_Sequences",
	EntropyFilter:       "5.Low_Complexity_Filtered_Sequences",
	FastQCFinal:         "6.FastQC_Final_Reports",
	TaxonomicProfiling:  "7.Taxonomic_Profiling",
	FunctionalProfiling: "8.Functional_Profiling",
}

var compactedDirs = map[Stage]string{
	FastQCInitial:       "1.FastQC_Initial_Reports",
	FastQCFinal:         "3.FastQC_Final_Reports",
	TaxonomicProfiling:  "4.Taxonomic_Profiling",
	FunctionalProfiling: "5.Functional_Profiling",
}

// Detect determines the layout variant of root by checking for the
// compacted sentinel directory. Call it once at process start and pass
// the result down; re-deriving it in multiple places risks the
// components disagreeing mid-run.
func Detect(root string) Mode {
	if info, err := os.Stat(filepath.Join(root, ProcessedDir)); err == nil && info.IsDir() {
		return Compacted
	}
	return Expanded
}

// OutputDir returns the stage's output directory under root.
//
// In compacted mode the early sequence-processing stages are no longer
// addressable; asking for them is an error.
func OutputDir(root string, s Stage, m Mode) (string, error) {
	dirs := expandedDirs
	if m == Compacted {
		dirs = compactedDirs
	}
	name, ok := dirs[s]
	if !ok {
		return "", fmt.Errorf("stage %s is not addressable in %s layout", s, m)
	}
	return filepath.Join(root, name), nil
}

// InputDir returns the directory a stage reads from.
//
// The stages form a linear chain with three exceptions: the initial
// FastQC stage and the merge stage both read the raw input directory,
// and the quality-control stage reads the raw directory directly when
// merging is disabled. The profiling stages and the final FastQC stage
// all read the last sequence-processing output, which in compacted mode
// is the processed-sequences directory.
func InputDir(root string, s Stage, m Mode, rawDir string, merged bool) (string, error) {
	if m == Compacted {
		switch s {
		case FastQCFinal, TaxonomicProfiling, FunctionalProfiling:
			return filepath.Join(root, ProcessedDir), nil
		}
		return "", fmt.Errorf("stage %s is not addressable in %s layout", s, m)
	}

	switch s {
	case FastQCInitial, Merge:
		return rawDir, nil
	case QC:
		if merged {
			return OutputDir(root, Merge, m)
		}
		return rawDir, nil
	case Decontam:
		return OutputDir(root, QC, m)
	case EntropyFilter:
		return OutputDir(root, Decontam, m)
	case FastQCFinal, TaxonomicProfiling, FunctionalProfiling:
		return OutputDir(root, EntropyFilter, m)
	}
	return "", fmt.Errorf("unknown stage %d", int(s))
}

// EnsureStageDir creates the stage's output directory together with its
// scheduler capture subdirectories. Creation is idempotent: existing
// directories are left alone, and their contents are never touched.
// This runs for skipped stages too, so that stage N's output directory
// always exists before stage N+1 looks for it.
func EnsureStageDir(root string, s Stage, m Mode) (string, error) {
	dir, err := OutputDir(root, s, m)
	if err != nil {
		return "", err
	}
	for _, d := range []string{dir, filepath.Join(dir, ErrorOutDir), filepath.Join(dir, OutputDir0)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return "", fmt.Errorf("creating stage directory: %w", err)
		}
	}
	return dir, nil
}

// IntermediateStages lists the expanded stages whose directories are
// removed by compaction.
var IntermediateStages = []Stage{Merge, QC, Decontam, EntropyFilter}

// Renumbering maps the expanded directory name of each trailing stage
// to its compacted name.
func Renumbering() map[string]string {
	out := map[string]string{}
	for _, s := range []Stage{FastQCFinal, TaxonomicProfiling, FunctionalProfiling} {
		out[expandedDirs[s]] = compactedDirs[s]
	}
	return out
}
