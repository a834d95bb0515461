// Package report assembles tabular summaries from a finished (or
// partially finished) pipeline tree.
//
// Three tables are produced, each keyed by sample and sorted by sample
// key: mean read length per stage, reads remaining per stage, and the
// adapters FastQC detected. Columns are derived from the stages whose
// outputs are actually present; within a present stage, a missing
// artifact for any sample is fatal, because the tables assume full
// rows.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/shenwei356/xopen"

	"github.com/mgpipe/mgpipe/compact"
	"github.com/mgpipe/mgpipe/internal/cli"
	"github.com/mgpipe/mgpipe/layout"
)

// Report holds the three assembled tables.
type Report struct {
	MeanLength     *cli.Table
	ReadsRemaining *cli.Table
	Adapters       *cli.Table
}

// stageCol is one sequence-bearing column of the report.
type stageCol struct {
	label string
	dir   string
}

// Build walks the pipeline tree and assembles the report. The layout
// mode is passed in, not re-derived, so every table agrees on the
// directory names.
func Build(root string, mode layout.Mode) (*Report, error) {
	keys, err := sampleKeys(root, mode)
	if err != nil {
		return nil, err
	}

	cols, err := presentStages(root, mode)
	if err != nil {
		return nil, err
	}

	r := &Report{}
	if r.MeanLength, err = meanLengthTable(root, mode, keys, cols); err != nil {
		return nil, err
	}
	if r.ReadsRemaining, err = readsRemainingTable(root, mode, keys); err != nil {
		return nil, err
	}
	if r.Adapters, err = adapterTable(root, mode, keys); err != nil {
		return nil, err
	}
	return r, nil
}

// sampleKeys derives the sample set from the final sequence directory.
func sampleKeys(root string, mode layout.Mode) ([]string, error) {
	dir := filepath.Join(root, layout.ProcessedDir)
	if mode == layout.Expanded {
		var err error
		dir, err = layout.OutputDir(root, layout.EntropyFilter, mode)
		if err != nil {
			return nil, err
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.fastq.gz"))
	if err != nil {
		return nil, fmt.Errorf("building report: %w", err)
	}

	seen := map[string]bool{}
	var keys []string
	for _, f := range files {
		key := keyFromSequence(filepath.Base(f))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("building report: no processed sequences under %s", dir)
	}
	sort.Strings(keys)
	return keys, nil
}

// keyFromSequence maps an output sequence file name back to its sample
// key. Extracted-read records do not denote samples.
func keyFromSequence(base string) string {
	if strings.Contains(base, "_host_reads") || strings.Contains(base, "_low_complexity_reads") || strings.Contains(base, "_joined") {
		return ""
	}
	if i := strings.Index(base, "_R1"); i >= 0 {
		return base[:i]
	}
	if strings.Contains(base, "_R2") {
		return ""
	}
	return strings.TrimSuffix(base, ".fastq.gz")
}

// sampleReports locates a sample's FastQC report files in one
// directory. Report directory names derive from the input file names,
// so each candidate's key is rederived and compared for equality; a
// bare prefix match would also pick up samples whose keys extend this
// one, such as S10 against S1.
func sampleReports(dir, key string) ([]string, error) {
	candidates, err := filepath.Glob(filepath.Join(dir, key+"*_fastqc", "fastqc_data.txt"))
	if err != nil {
		return nil, fmt.Errorf("locating fastqc data: %w", err)
	}

	var reports []string
	for _, path := range candidates {
		if reportKey(filepath.Base(filepath.Dir(path))) == key {
			reports = append(reports, path)
		}
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("no fastqc data under %s", dir)
	}
	return reports, nil
}

// reportKey maps a FastQC report directory name back to its sample
// key.
func reportKey(base string) string {
	base = strings.TrimSuffix(base, "_fastqc")
	for _, marker := range []string{"_R1", "_R2"} {
		if i := strings.Index(base, marker); i >= 0 {
			return base[:i]
		}
	}
	return base
}

// presentStages lists the sequence-bearing stage columns whose
// directories exist and are populated.
func presentStages(root string, mode layout.Mode) ([]stageCol, error) {
	if mode == layout.Compacted {
		return []stageCol{{label: "Processed", dir: filepath.Join(root, layout.ProcessedDir)}}, nil
	}

	candidates := []struct {
		label string
		stage layout.Stage
	}{
		{"Quality_Controlled", layout.QC},
		{"Decontaminated", layout.Decontam},
		{"Low_Complexity_Filtered", layout.EntropyFilter},
	}

	var cols []stageCol
	for _, c := range candidates {
		dir, err := layout.OutputDir(root, c.stage, mode)
		if err != nil {
			return nil, err
		}
		matches, err := filepath.Glob(filepath.Join(dir, "*.fastq.gz"))
		if err != nil {
			return nil, fmt.Errorf("building report: %w", err)
		}
		if len(matches) > 0 {
			cols = append(cols, stageCol{label: c.label, dir: dir})
		}
	}
	return cols, nil
}

// meanLengthTable builds the mean-read-length table: the raw column
// comes from the FastQC length histograms, the later columns from
// scanning each stage's sequence files directly.
func meanLengthTable(root string, mode layout.Mode, keys []string, cols []stageCol) (*cli.Table, error) {
	header := []string{"Sample", "Raw"}
	for _, c := range cols {
		header = append(header, c.label)
	}
	t := &cli.Table{Header: header}

	fastqcDir, err := layout.OutputDir(root, layout.FastQCInitial, mode)
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		row := []string{key}

		mean, sd, err := fastqcLengthStats(fastqcDir, key)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", key, err)
		}
		row = append(row, formatMeanSD(mean, sd))

		for _, c := range cols {
			files, err := sampleSequences(c.dir, key)
			if err != nil {
				return nil, fmt.Errorf("sample %s: %w", key, err)
			}
			lengths, err := scanLengths(files)
			if err != nil {
				return nil, fmt.Errorf("sample %s: %w", key, err)
			}
			mean, err := stats.Mean(lengths)
			if err != nil {
				return nil, fmt.Errorf("sample %s: length statistics: %w", key, err)
			}
			sd, err := stats.StandardDeviation(lengths)
			if err != nil {
				return nil, fmt.Errorf("sample %s: length statistics: %w", key, err)
			}
			row = append(row, formatMeanSD(mean, sd))
		}

		if err := t.Append(row); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func formatMeanSD(mean, sd float64) string {
	return fmt.Sprintf("%.1f (sd %.1f)", mean, sd)
}

// fastqcLengthStats combines the length histograms of every FastQC
// report belonging to a sample (R1 and R2 for paired input) into
// weighted moments.
func fastqcLengthStats(dir, key string) (mean, sd float64, err error) {
	reports, err := sampleReports(dir, key)
	if err != nil {
		return 0, 0, err
	}

	var bins []lengthBin
	for _, path := range reports {
		fid, err := os.Open(path)
		if err != nil {
			return 0, 0, fmt.Errorf("reading fastqc data: %w", err)
		}
		d, err := parseFastQCData(fid)
		fid.Close()
		if err != nil {
			return 0, 0, err
		}
		bins = append(bins, d.lengths...)
	}
	return weightedMeanSD(bins)
}

// sampleSequences returns a sample's sequence files in a stage
// directory. A sample with no files in a present stage is fatal.
func sampleSequences(dir, key string) ([]string, error) {
	var files []string
	for _, pattern := range []string{key + ".fastq.gz", key + "_R1*.fastq.gz", key + "_R2*.fastq.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("locating sequences: %w", err)
		}
		files = append(files, matches...)
	}
	files = excludeRecords(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no sequences for sample in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

func excludeRecords(files []string) []string {
	var out []string
	for _, f := range files {
		base := filepath.Base(f)
		if strings.Contains(base, "_host_reads") || strings.Contains(base, "_low_complexity_reads") || strings.Contains(base, "_joined") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// scanLengths reads fastq records and collects per-read lengths.
func scanLengths(files []string) (stats.Float64Data, error) {
	var lengths stats.Float64Data
	for _, f := range files {
		err := eachRecord(f, func(seq string) {
			lengths = append(lengths, float64(len(seq)))
		})
		if err != nil {
			return nil, err
		}
	}
	if len(lengths) == 0 {
		return nil, fmt.Errorf("no reads in %s", strings.Join(files, ", "))
	}
	return lengths, nil
}

// countReads counts fastq records across files.
func countReads(files []string) (int64, error) {
	var n int64
	for _, f := range files {
		err := eachRecord(f, func(string) { n++ })
		if err != nil {
			return 0, err
		}
	}
	return n, nil
}

// eachRecord streams a fastq file (plain or gzip) record by record.
func eachRecord(path string, fn func(seq string)) error {
	fid, err := xopen.Ropen(path)
	if errors.Is(err, xopen.ErrNoContent) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer fid.Close()

	lineNo := 0
	for {
		line, err := fid.ReadString('\n')
		if line != "" {
			if lineNo%4 == 1 {
				fn(strings.TrimRight(line, "\n"))
			}
			lineNo++
		}
		if err != nil {
			break
		}
	}
	return nil
}

// readsRemainingTable builds the per-stage read-count table from the
// stage logs. The decontamination survivor count is not read from a
// log: it is the quality-controlled count minus the extracted host
// reads, since the decontamination log reports matches rather than
// survivors.
func readsRemainingTable(root string, mode layout.Mode, keys []string) (*cli.Table, error) {
	t := &cli.Table{Header: []string{"Sample", "Raw", "Quality_Controlled", "Decontaminated", "Low_Complexity_Filtered"}}

	for _, key := range keys {
		counts, err := stageCounts(root, mode, key)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", key, err)
		}
		row := []string{
			key,
			strconv.FormatInt(counts.raw, 10),
			strconv.FormatInt(counts.qc, 10),
			strconv.FormatInt(counts.decontam, 10),
			strconv.FormatInt(counts.entropy, 10),
		}
		if err := t.Append(row); err != nil {
			return nil, err
		}
	}
	return t, nil
}

type readCounts struct {
	raw, qc, decontam, entropy int64
}

// stageCounts collects the read counts for one sample. In compacted
// mode the per-stage fragments live in the merged log under their
// section headers; in expanded mode each stage directory has its own
// log.
func stageCounts(root string, mode layout.Mode, key string) (*readCounts, error) {
	var qcLog, entropyLog string
	var hostDir string

	if mode == layout.Compacted {
		merged := filepath.Join(root, layout.ProcessedDir, layout.LogFilesDir, key+".log")
		data, err := os.ReadFile(merged)
		if err != nil {
			return nil, fmt.Errorf("reading merged log: %w", err)
		}
		qcLog = logSection(string(data), compact.HeaderQC)
		entropyLog = logSection(string(data), compact.HeaderEntropy)
		if qcLog == "" || entropyLog == "" {
			return nil, fmt.Errorf("merged log %s lacks processing sections", merged)
		}
		hostDir = filepath.Join(root, layout.ProcessedDir, layout.HostSeqDir)
	} else {
		qcDir, err := layout.OutputDir(root, layout.QC, mode)
		if err != nil {
			return nil, err
		}
		entDir, err := layout.OutputDir(root, layout.EntropyFilter, mode)
		if err != nil {
			return nil, err
		}
		qcData, err := os.ReadFile(filepath.Join(qcDir, key+".log"))
		if err != nil {
			return nil, fmt.Errorf("reading quality-control log: %w", err)
		}
		entData, err := os.ReadFile(filepath.Join(entDir, key+".log"))
		if err != nil {
			return nil, fmt.Errorf("reading entropy-filter log: %w", err)
		}
		qcLog, entropyLog = string(qcData), string(entData)
		hostDir, err = layout.OutputDir(root, layout.Decontam, mode)
		if err != nil {
			return nil, err
		}
		// The decontamination count is computed, not parsed, but the
		// log is still an expected per-sample artifact; a sample
		// without one has an incomplete row.
		if _, err := os.Stat(filepath.Join(hostDir, key+".log")); err != nil {
			return nil, fmt.Errorf("reading decontamination log: %w", err)
		}
	}

	var c readCounts
	var err error
	if c.raw, err = markerCount(qcLog, "Input:"); err != nil {
		return nil, fmt.Errorf("quality-control log: %w", err)
	}
	if c.qc, err = markerCount(qcLog, "Result:"); err != nil {
		return nil, fmt.Errorf("quality-control log: %w", err)
	}
	if c.entropy, err = markerCount(entropyLog, "Result:"); err != nil {
		return nil, fmt.Errorf("entropy-filter log: %w", err)
	}

	hostFiles, err := filepath.Glob(filepath.Join(hostDir, key+"_host_reads*.fastq.gz"))
	if err != nil {
		return nil, fmt.Errorf("locating host reads: %w", err)
	}
	host, err := countReads(hostFiles)
	if err != nil {
		return nil, err
	}
	c.decontam = c.qc - host
	return &c, nil
}

// logSection extracts the body of one section of a merged log.
func logSection(data, header string) string {
	i := strings.Index(data, header)
	if i < 0 {
		return ""
	}
	body := data[i+len(header):]
	if j := strings.Index(body, "===================="); j >= 0 {
		body = body[:j]
	}
	return body
}

// markerCount finds a "Marker:   N ..." line and returns N.
func markerCount(logData, marker string) (int64, error) {
	for _, line := range strings.Split(logData, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, marker) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(trimmed, marker))
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing %q count %q: %w", marker, fields[0], err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("no %q marker found", marker)
}

// adapterTable builds the detected-adapters table from the FastQC
// overrepresented-sequence sources.
func adapterTable(root string, mode layout.Mode, keys []string) (*cli.Table, error) {
	cols := []struct {
		label string
		stage layout.Stage
	}{
		{"Initial", layout.FastQCInitial},
		{"Final", layout.FastQCFinal},
	}

	header := []string{"Sample"}
	var dirs []string
	for _, c := range cols {
		dir, err := layout.OutputDir(root, c.stage, mode)
		if err != nil {
			return nil, err
		}
		if reports, _ := filepath.Glob(filepath.Join(dir, "*_fastqc", "fastqc_data.txt")); len(reports) > 0 {
			header = append(header, c.label)
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return &cli.Table{Header: []string{"Sample"}}, nil
	}

	t := &cli.Table{Header: header}
	for _, key := range keys {
		row := []string{key}
		for _, dir := range dirs {
			adapters, err := sampleAdapters(dir, key)
			if err != nil {
				return nil, fmt.Errorf("sample %s: %w", key, err)
			}
			cell := "None"
			if len(adapters) > 0 {
				cell = strings.Join(adapters, ", ")
			}
			row = append(row, cell)
		}
		if err := t.Append(row); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// sampleAdapters collects the distinct adapter sources across a
// sample's FastQC reports in one directory.
func sampleAdapters(dir, key string) ([]string, error) {
	reports, err := sampleReports(dir, key)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []string
	for _, path := range reports {
		fid, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("reading fastqc data: %w", err)
		}
		d, err := parseFastQCData(fid)
		fid.Close()
		if err != nil {
			return nil, err
		}
		for _, a := range d.adapters {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
