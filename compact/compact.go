// Package compact deletes a pipeline's intermediate sequence
// directories after preserving everything worth keeping.
//
// The transform runs as a fixed sequence: per-sample logs are merged,
// extracted host and low-complexity reads are relocated, the final
// processed sequences are copied into their permanent location and
// verified, the trailing stage directories are renumbered, and only
// then are the intermediates deleted. A verification failure aborts
// before anything destructive happens; already-copied files are left in
// place for the operator to inspect.
package compact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mgpipe/mgpipe/layout"
)

// section is one fragment of the merged per-sample log.
type section struct {
	header string
	stage  layout.Stage

	// suffixes are the per-sample file suffixes concatenated under
	// the header, in order.
	suffixes []string
}

// Merged-log section headers. The report reads per-stage fragments
// back out of the merged log by these names.
const (
	HeaderMerge    = "Read Merging"
	HeaderQC       = "Quality Control"
	HeaderDecontam = "Decontamination"
	HeaderEntropy  = "Low-Complexity Filtering"
)

// Merged log sections, in fixed stage order. A missing fragment is
// omitted, not replaced with a placeholder; the stage may have been
// skipped.
var sections = []section{
	{header: HeaderMerge, stage: layout.Merge, suffixes: []string{".log"}},
	{header: HeaderQC, stage: layout.QC, suffixes: []string{".log", "_stats.txt"}},
	{header: HeaderDecontam, stage: layout.Decontam, suffixes: []string{".log", "_refstats.txt"}},
	{header: HeaderEntropy, stage: layout.EntropyFilter, suffixes: []string{".log"}},
}

// SectionHeaders returns the merged-log section headers in order.
func SectionHeaders() []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.header
	}
	return out
}

// Compact folds the intermediate stage directories of an expanded
// pipeline root into the processed-sequences layout.
func Compact(root string, sampleKeys []string) error {
	if layout.Detect(root) == layout.Compacted {
		return fmt.Errorf("compacting %s: already compacted", root)
	}

	processed := filepath.Join(root, layout.ProcessedDir)
	for _, d := range []string{
		processed,
		filepath.Join(processed, layout.LogFilesDir),
		filepath.Join(processed, layout.HostSeqDir),
		filepath.Join(processed, layout.LowComplexSeqDir),
	} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("compacting %s: %w", root, err)
		}
	}

	if err := mergeLogs(root, processed, sampleKeys); err != nil {
		return err
	}
	if err := relocateExtracted(root, processed); err != nil {
		return err
	}
	if err := copyAndVerify(root, processed); err != nil {
		return err
	}
	if err := renumber(root); err != nil {
		return err
	}
	return deleteIntermediates(root)
}

// mergeLogs concatenates each sample's per-stage log fragments under
// section headers into one combined log.
func mergeLogs(root, processed string, sampleKeys []string) error {
	for _, key := range sampleKeys {
		outPath := filepath.Join(processed, layout.LogFilesDir, key+".log")
		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("merging logs for %s: %w", key, err)
		}

		for _, sec := range sections {
			dir, err := layout.OutputDir(root, sec.stage, layout.Expanded)
			if err != nil {
				out.Close()
				return err
			}
			var found bool
			var body []byte
			for _, suffix := range sec.suffixes {
				frag, err := os.ReadFile(filepath.Join(dir, key+suffix))
				if err != nil {
					if os.IsNotExist(err) {
						continue
					}
					out.Close()
					return fmt.Errorf("merging logs for %s: %w", key, err)
				}
				found = true
				body = append(body, frag...)
				if len(frag) > 0 && frag[len(frag)-1] != '\n' {
					body = append(body, '\n')
				}
			}
			if !found {
				continue
			}
			header := fmt.Sprintf("==================== %s ====================\n", sec.header)
			if _, err := out.WriteString(header); err != nil {
				out.Close()
				return fmt.Errorf("merging logs for %s: %w", key, err)
			}
			if _, err := out.Write(body); err != nil {
				out.Close()
				return fmt.Errorf("merging logs for %s: %w", key, err)
			}
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("merging logs for %s: %w", key, err)
		}
	}
	return nil
}

// relocateExtracted moves the records of interest out of the stage
// directories into their permanent homes.
func relocateExtracted(root, processed string) error {
	moves := []struct {
		stage  layout.Stage
		marker string
		dest   string
	}{
		{layout.Decontam, "_host_reads", layout.HostSeqDir},
		{layout.EntropyFilter, "_low_complexity_reads", layout.LowComplexSeqDir},
	}

	for _, m := range moves {
		dir, err := layout.OutputDir(root, m.stage, layout.Expanded)
		if err != nil {
			return err
		}
		matches, err := filepath.Glob(filepath.Join(dir, "*"+m.marker+"*"))
		if err != nil {
			return fmt.Errorf("relocating extracted reads: %w", err)
		}
		for _, src := range matches {
			dst := filepath.Join(processed, m.dest, filepath.Base(src))
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("relocating %s: %w", src, err)
			}
		}
	}
	return nil
}

// copyAndVerify copies the final processed sequences into the
// processed directory, then diffs the copied file-name set against the
// source set. Any difference is fatal, and nothing has been deleted at
// that point.
func copyAndVerify(root, processed string) error {
	srcDir, err := layout.OutputDir(root, layout.EntropyFilter, layout.Expanded)
	if err != nil {
		return err
	}
	srcFiles, err := filepath.Glob(filepath.Join(srcDir, "*.fastq.gz"))
	if err != nil {
		return fmt.Errorf("verifying processed sequences: %w", err)
	}
	if len(srcFiles) == 0 {
		return fmt.Errorf("compacting %s: no processed sequences in %s", root, srcDir)
	}

	for _, src := range srcFiles {
		if err := copyFile(src, filepath.Join(processed, filepath.Base(src))); err != nil {
			return err
		}
	}

	copied, err := filepath.Glob(filepath.Join(processed, "*.fastq.gz"))
	if err != nil {
		return fmt.Errorf("verifying processed sequences: %w", err)
	}
	if diff := nameSetDiff(srcFiles, copied); len(diff) > 0 {
		return fmt.Errorf("verifying processed sequences: copies do not match source: %s", strings.Join(diff, ", "))
	}

	for _, src := range srcFiles {
		dst := filepath.Join(processed, filepath.Base(src))
		si, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("verifying processed sequences: %w", err)
		}
		di, err := os.Stat(dst)
		if err != nil {
			return fmt.Errorf("verifying processed sequences: %w", err)
		}
		if si.Size() != di.Size() {
			return fmt.Errorf("verifying processed sequences: %s copied short (%d of %d bytes)",
				filepath.Base(src), di.Size(), si.Size())
		}
	}
	return nil
}

// nameSetDiff returns the symmetric difference of two path lists,
// compared by base name.
func nameSetDiff(a, b []string) []string {
	names := func(paths []string) map[string]bool {
		m := make(map[string]bool, len(paths))
		for _, p := range paths {
			m[filepath.Base(p)] = true
		}
		return m
	}
	na, nb := names(a), names(b)

	var diff []string
	for n := range na {
		if !nb[n] {
			diff = append(diff, n+" (missing from copy)")
		}
	}
	for n := range nb {
		if !na[n] {
			diff = append(diff, n+" (not in source)")
		}
	}
	sort.Strings(diff)
	return diff
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}

// renumber moves the trailing stage directories to their compacted
// positions. Absent directories (stages never run) are fine.
func renumber(root string) error {
	for from, to := range layout.Renumbering() {
		src := filepath.Join(root, from)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(src, filepath.Join(root, to)); err != nil {
			return fmt.Errorf("renumbering %s: %w", from, err)
		}
	}
	return nil
}

// deleteIntermediates removes the now-redundant stage directories.
func deleteIntermediates(root string) error {
	for _, s := range layout.IntermediateStages {
		dir, err := layout.OutputDir(root, s, layout.Expanded)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("deleting %s: %w", dir, err)
		}
	}
	return nil
}
