package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetect(t *testing.T) {
	root := t.TempDir()
	if got := Detect(root); got != Expanded {
		t.Errorf("Detect(empty) = %v, want expanded", got)
	}

	if err := os.MkdirAll(filepath.Join(root, ProcessedDir), 0755); err != nil {
		t.Fatal(err)
	}
	if got := Detect(root); got != Compacted {
		t.Errorf("Detect with %s = %v, want compacted", ProcessedDir, got)
	}
}

func TestDetectIgnoresFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ProcessedDir), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := Detect(root); got != Expanded {
		t.Errorf("Detect with plain file = %v, want expanded", got)
	}
}

func TestOutputDirModes(t *testing.T) {
	root := "/pipe"
	tests := []struct {
		stage   Stage
		mode    Mode
		want    string
		wantErr bool
	}{
		{FastQCInitial, Expanded, "1.FastQC_Initial_Reports", false},
		{Merge, Expanded, "2.Merged_Paired_End_Sequences", false},
		{QC, Expanded, "3.Quality_Controlled_Sequences", false},
		{Decontam, Expanded, "4.Decontaminated_Sequences", false},
		{EntropyFilter, Expanded, "5.Low_Complexity_Filtered_Sequences", false},
		{FastQCFinal, Expanded, "6.FastQC_Final_Reports", false},
		{TaxonomicProfiling, Expanded, "7.Taxonomic_Profiling", false},
		{FunctionalProfiling, Expanded, "8.Functional_Profiling", false},
		{FastQCFinal, Compacted, "3.FastQC_Final_Reports", false},
		{TaxonomicProfiling, Compacted, "4.Taxonomic_Profiling", false},
		{FunctionalProfiling, Compacted, "5.Functional_Profiling", false},
		{Merge, Compacted, "", true},
		{QC, Compacted, "", true},
		{Decontam, Compacted, "", true},
		{EntropyFilter, Compacted, "", true},
	}

	for _, tt := range tests {
		got, err := OutputDir(root, tt.stage, tt.mode)
		if tt.wantErr {
			if err == nil {
				t.Errorf("OutputDir(%v, %v): expected error", tt.stage, tt.mode)
			}
			continue
		}
		if err != nil {
			t.Errorf("OutputDir(%v, %v): %v", tt.stage, tt.mode, err)
			continue
		}
		if want := filepath.Join(root, tt.want); got != want {
			t.Errorf("OutputDir(%v, %v) = %q, want %q", tt.stage, tt.mode, got, want)
		}
	}
}

func TestInputDirChain(t *testing.T) {
	root := "/pipe"
	raw := "/raw"

	tests := []struct {
		stage  Stage
		merged bool
		want   string
	}{
		{FastQCInitial, true, raw},
		{Merge, true, raw},
		{QC, true, filepath.Join(root, "2.Merged_Paired_End_Sequences")},
		{QC, false, raw},
		{Decontam, false, filepath.Join(root, "3.Quality_Controlled_Sequences")},
		{EntropyFilter, false, filepath.Join(root, "4.Decontaminated_Sequences")},
		{FastQCFinal, false, filepath.Join(root, "5.Low_Complexity_Filtered_Sequences")},
		{TaxonomicProfiling, false, filepath.Join(root, "5.Low_Complexity_Filtered_Sequences")},
		{FunctionalProfiling, false, filepath.Join(root, "5.Low_Complexity_Filtered_Sequences")},
	}

	for _, tt := range tests {
		got, err := InputDir(root, tt.stage, Expanded, raw, tt.merged)
		if err != nil {
			t.Errorf("InputDir(%v): %v", tt.stage, err)
			continue
		}
		if got != tt.want {
			t.Errorf("InputDir(%v, merged=%v) = %q, want %q", tt.stage, tt.merged, got, tt.want)
		}
	}
}

func TestInputDirCompacted(t *testing.T) {
	root := "/pipe"
	for _, s := range []Stage{FastQCFinal, TaxonomicProfiling, FunctionalProfiling} {
		got, err := InputDir(root, s, Compacted, "", false)
		if err != nil {
			t.Fatalf("InputDir(%v, compacted): %v", s, err)
		}
		if want := filepath.Join(root, ProcessedDir); got != want {
			t.Errorf("InputDir(%v, compacted) = %q, want %q", s, got, want)
		}
	}

	if _, err := InputDir(root, QC, Compacted, "", false); err == nil {
		t.Error("InputDir(qc, compacted): expected error")
	}
}

func TestEnsureStageDir(t *testing.T) {
	root := t.TempDir()

	dir, err := EnsureStageDir(root, QC, Expanded)
	if err != nil {
		t.Fatalf("EnsureStageDir: %v", err)
	}

	for _, sub := range []string{"", ErrorOutDir, OutputDir0} {
		p := filepath.Join(dir, sub)
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			t.Errorf("missing directory %s", p)
		}
	}

	// Creation is idempotent and must not disturb existing contents.
	marker := filepath.Join(dir, "S1.log")
	if err := os.WriteFile(marker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := EnsureStageDir(root, QC, Expanded); err != nil {
		t.Fatalf("second EnsureStageDir: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("existing file removed by EnsureStageDir: %v", err)
	}

	// Nothing outside the stage directory is created.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("root has %d entries, want 1", len(entries))
	}
}

func TestByName(t *testing.T) {
	for _, s := range Stages {
		got, err := ByName(s.String())
		if err != nil {
			t.Errorf("ByName(%q): %v", s, err)
		}
		if got != s {
			t.Errorf("ByName(%q) = %v, want %v", s, got, s)
		}
	}
	if _, err := ByName("bogus"); err == nil {
		t.Error("ByName(bogus): expected error")
	}
}
