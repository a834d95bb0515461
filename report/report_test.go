package report

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mgpipe/mgpipe/compact"
	"github.com/mgpipe/mgpipe/layout"
)

// writeFastqGz writes a gzipped fastq file with reads of the given
// lengths.
func writeFastqGz(t *testing.T, path string, lengths ...int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	fid, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(fid)
	for i, n := range lengths {
		seq := strings.Repeat("A", n)
		qual := strings.Repeat("I", n)
		fmt.Fprintf(zw, "@read%d\n%s\n+\n%s\n", i, seq, qual)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := fid.Close(); err != nil {
		t.Fatal(err)
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

const fastqcTemplate = `##FastQC	0.11.9
>>Basic Statistics	pass
#Measure	Value
Filename	%s
>>END_MODULE
>>Sequence Length Distribution	pass
#Length	Count
100	10.0
150	30.0
>>END_MODULE
>>Overrepresented sequences	warn
#Sequence	Count	Percentage	Possible Source
ACGTACGT	12	1.5	TruSeq Adapter, Index 1
TTTTTTTT	5	0.2	No Hit
>>END_MODULE
`

func sampleLog(input, result int) string {
	return fmt.Sprintf("Input:  %d reads\nResult: %d reads\n", input, result)
}

func sectionHeader(name string) string {
	return fmt.Sprintf("==================== %s ====================\n", name)
}

// expandedTree builds an expanded three-sample tree with complete
// artifacts.
func expandedTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	for i, key := range []string{"S1", "S2", "S3"} {
		fqc := filepath.Join(root, "1.FastQC_Initial_Reports", key+"_fastqc", "fastqc_data.txt")
		write(t, fqc, fmt.Sprintf(fastqcTemplate, key+".fastq.gz"))

		qcDir := filepath.Join(root, "3.Quality_Controlled_Sequences")
		writeFastqGz(t, filepath.Join(qcDir, key+".fastq.gz"), 150, 150, 140)
		write(t, filepath.Join(qcDir, key+".log"), sampleLog(1000+i, 900+i))
		write(t, filepath.Join(qcDir, key+"_stats.txt"), "stats\n")

		decDir := filepath.Join(root, "4.Decontaminated_Sequences")
		writeFastqGz(t, filepath.Join(decDir, key+".fastq.gz"), 150, 140)
		write(t, filepath.Join(decDir, key+".log"), "decontam log\n")
		writeFastqGz(t, filepath.Join(decDir, key+"_host_reads.fastq.gz"), 150, 150)

		entDir := filepath.Join(root, "5.Low_Complexity_Filtered_Sequences")
		writeFastqGz(t, filepath.Join(entDir, key+".fastq.gz"), 150, 130)
		write(t, filepath.Join(entDir, key+".log"), sampleLog(898+i, 880+i))
	}
	return root
}

func TestBuildExpanded(t *testing.T) {
	root := expandedTree(t)

	r, err := Build(root, layout.Expanded)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Mean-length table: raw column weighted by the histogram counts,
	// later columns scanned directly.
	wantHeader := []string{"Sample", "Raw", "Quality_Controlled", "Decontaminated", "Low_Complexity_Filtered"}
	if got := strings.Join(r.MeanLength.Header, ","); got != strings.Join(wantHeader, ",") {
		t.Errorf("mean-length header = %v", r.MeanLength.Header)
	}
	if len(r.MeanLength.Rows) != 3 {
		t.Fatalf("mean-length rows = %d, want 3", len(r.MeanLength.Rows))
	}
	// Histogram: 10 reads at 100, 30 at 150 -> weighted mean 137.5.
	if got := r.MeanLength.Rows[0][1]; !strings.HasPrefix(got, "137.5") {
		t.Errorf("raw mean = %q, want 137.5...", got)
	}
	// Rows sorted by sample key.
	if r.MeanLength.Rows[0][0] != "S1" || r.MeanLength.Rows[2][0] != "S3" {
		t.Errorf("rows not sorted: %v", r.MeanLength.Rows)
	}

	// Reads-remaining: decontamination survivors are computed as
	// qc result minus extracted host reads (2 per sample here).
	row := r.ReadsRemaining.Rows[0]
	if row[1] != "1000" || row[2] != "900" {
		t.Errorf("S1 raw/qc counts = %v", row)
	}
	if row[3] != "898" {
		t.Errorf("S1 decontam survivors = %q, want 898 (900 - 2 host reads)", row[3])
	}
	if row[4] != "880" {
		t.Errorf("S1 entropy survivors = %q, want 880", row[4])
	}

	// Adapter table: only the initial FastQC reports exist.
	if got := strings.Join(r.Adapters.Header, ","); got != "Sample,Initial" {
		t.Errorf("adapter header = %v", r.Adapters.Header)
	}
	if cell := r.Adapters.Rows[0][1]; !strings.Contains(cell, "TruSeq Adapter") {
		t.Errorf("adapter cell = %q", cell)
	}
	if cell := r.Adapters.Rows[0][1]; strings.Contains(cell, "No Hit") {
		t.Errorf("No Hit leaked into adapter cell %q", cell)
	}
}

func TestBuildMissingDecontamLogFatal(t *testing.T) {
	root := expandedTree(t)

	if err := os.Remove(filepath.Join(root, "4.Decontaminated_Sequences", "S2.log")); err != nil {
		t.Fatal(err)
	}

	_, err := Build(root, layout.Expanded)
	if err == nil {
		t.Fatal("Build succeeded with a missing decontamination log")
	}
	if !strings.Contains(err.Error(), "S2") {
		t.Errorf("error does not name the sample: %v", err)
	}
}

func TestBuildCompacted(t *testing.T) {
	root := t.TempDir()

	write(t, filepath.Join(root, "1.FastQC_Initial_Reports", "S1_fastqc", "fastqc_data.txt"),
		fmt.Sprintf(fastqcTemplate, "S1.fastq.gz"))

	processed := filepath.Join(root, layout.ProcessedDir)
	writeFastqGz(t, filepath.Join(processed, "S1.fastq.gz"), 150, 130)
	write(t, filepath.Join(processed, layout.LogFilesDir, "S1.log"),
		sectionHeader(compact.HeaderQC)+
			sampleLog(1000, 900)+
			sectionHeader(compact.HeaderDecontam)+
			"decontam log\n"+
			sectionHeader(compact.HeaderEntropy)+
			sampleLog(898, 880))
	writeFastqGz(t, filepath.Join(processed, layout.HostSeqDir, "S1_host_reads.fastq.gz"), 150)

	r, err := Build(root, layout.Compacted)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := strings.Join(r.MeanLength.Header, ","); got != "Sample,Raw,Processed" {
		t.Errorf("mean-length header = %v", r.MeanLength.Header)
	}
	row := r.ReadsRemaining.Rows[0]
	if row[2] != "900" || row[3] != "899" || row[4] != "880" {
		t.Errorf("compacted counts = %v", row)
	}
}

func TestSampleReportsPrefixKeys(t *testing.T) {
	dir := t.TempDir()

	data := ">>Sequence Length Distribution\tpass\n" +
		"#Length\tCount\n%d\t10.0\n>>END_MODULE\n" +
		">>Overrepresented sequences\twarn\n" +
		"#Sequence\tCount\tPercentage\tPossible Source\n" +
		"ACGTACGT\t5\t1.0\t%s\n>>END_MODULE\n"

	// S10's key extends S1's; its reports must not count toward S1.
	for _, r := range []string{"R1", "R2"} {
		write(t, filepath.Join(dir, "S1_"+r+"_fastqc", "fastqc_data.txt"),
			fmt.Sprintf(data, 100, "TruSeq Adapter, Index 1"))
		write(t, filepath.Join(dir, "S10_"+r+"_fastqc", "fastqc_data.txt"),
			fmt.Sprintf(data, 200, "Illumina Single End PCR Primer 1"))
	}

	mean, _, err := fastqcLengthStats(dir, "S1")
	if err != nil {
		t.Fatalf("fastqcLengthStats: %v", err)
	}
	if mean != 100 {
		t.Errorf("S1 mean = %v, want 100 (another sample's reports counted)", mean)
	}

	adapters, err := sampleAdapters(dir, "S1")
	if err != nil {
		t.Fatalf("sampleAdapters: %v", err)
	}
	if len(adapters) != 1 || adapters[0] != "TruSeq Adapter, Index 1" {
		t.Errorf("S1 adapters = %v", adapters)
	}
}

func TestParseFastQCData(t *testing.T) {
	d, err := parseFastQCData(strings.NewReader(fmt.Sprintf(fastqcTemplate, "x.fastq.gz")))
	if err != nil {
		t.Fatalf("parseFastQCData: %v", err)
	}
	if len(d.lengths) != 2 {
		t.Fatalf("lengths = %v", d.lengths)
	}
	if d.lengths[0].length != 100 || d.lengths[0].count != 10 {
		t.Errorf("first bin = %+v", d.lengths[0])
	}
	if len(d.adapters) != 1 || d.adapters[0] != "TruSeq Adapter, Index 1" {
		t.Errorf("adapters = %v", d.adapters)
	}
}

func TestParseLengthRange(t *testing.T) {
	v, err := parseLengthField("50-54")
	if err != nil {
		t.Fatal(err)
	}
	if v != 52 {
		t.Errorf("midpoint = %v, want 52", v)
	}
}

func TestWeightedMeanSD(t *testing.T) {
	bins := []lengthBin{{length: 100, count: 10}, {length: 150, count: 30}}
	mean, sd, err := weightedMeanSD(bins)
	if err != nil {
		t.Fatal(err)
	}
	if mean != 137.5 {
		t.Errorf("mean = %v, want 137.5", mean)
	}
	if sd < 21.6 || sd > 21.7 {
		t.Errorf("sd = %v, want ~21.65", sd)
	}

	if _, _, err := weightedMeanSD(nil); err == nil {
		t.Error("empty histogram: expected error")
	}
}

func TestMarkerCount(t *testing.T) {
	logData := "Processing...\nInput:                  1000 reads   150000 bases\nResult:                 900 reads (90.0%)\n"
	in, err := markerCount(logData, "Input:")
	if err != nil || in != 1000 {
		t.Errorf("Input = %d, %v", in, err)
	}
	res, err := markerCount(logData, "Result:")
	if err != nil || res != 900 {
		t.Errorf("Result = %d, %v", res, err)
	}
	if _, err := markerCount("nothing here\n", "Input:"); err == nil {
		t.Error("missing marker: expected error")
	}
}

func TestCountReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reads.fastq.gz")
	writeFastqGz(t, path, 100, 100, 100)

	n, err := countReads([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}
