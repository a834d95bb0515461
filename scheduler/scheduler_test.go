package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validSpec() JobSpec {
	return JobSpec{
		Name:        "qc",
		Partition:   "general",
		Time:        90 * time.Minute,
		CPUs:        4,
		MemPerCPUMB: 4000,
		Script:      []string{"echo run"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*JobSpec)
		want   string
	}{
		{"ok", func(s *JobSpec) {}, ""},
		{"no name", func(s *JobSpec) { s.Name = "" }, "empty name"},
		{"no partition", func(s *JobSpec) { s.Partition = "" }, "empty partition"},
		{"no time", func(s *JobSpec) { s.Time = 0 }, "time limit"},
		{"no cpus", func(s *JobSpec) { s.CPUs = 0 }, "cpu count"},
		{"no mem", func(s *JobSpec) { s.MemPerCPUMB = 0 }, "mem-per-cpu"},
		{"no script", func(s *JobSpec) { s.Script = nil }, "empty script"},
		{"array file mismatch", func(s *JobSpec) {
			s.ArraySize = 3
			s.Files = []string{"a", "b"}
		}, "does not match"},
		{"pair file mismatch", func(s *JobSpec) {
			s.ArraySize = 2
			s.Files = []string{"a", "b"}
			s.PairFiles = []string{"c"}
		}, "pair files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestRenderScriptArray(t *testing.T) {
	spec := validSpec()
	spec.ArraySize = 2
	spec.Files = []string{"/in/S1_R1.fastq.gz", "/in/S2_R1.fastq.gz"}
	spec.PairFiles = []string{"/in/S1_R2.fastq.gz", "/in/S2_R2.fastq.gz"}
	spec.Setup = "source activate qc-env"
	spec.NotifyEmail = "ops@example.org"
	spec.ErrorDir = "/pipe/3.Quality_Controlled_Sequences/0.ErrorOut"
	spec.OutputDir = "/pipe/3.Quality_Controlled_Sequences/0.Output"

	script, err := renderScript(spec)
	if err != nil {
		t.Fatalf("renderScript: %v", err)
	}

	for _, want := range []string{
		"#SBATCH --job-name=qc",
		"#SBATCH --partition=general",
		"#SBATCH --time=01:30:00",
		"#SBATCH --cpus-per-task=4",
		"#SBATCH --mem-per-cpu=4000M",
		"#SBATCH --mail-type=FAIL",
		"#SBATCH --mail-user=ops@example.org",
		"#SBATCH --array=0-1",
		"#SBATCH --error=/pipe/3.Quality_Controlled_Sequences/0.ErrorOut/qc_%A_%a.err",
		"files[0]=/in/S1_R1.fastq.gz",
		"files[1]=/in/S2_R1.fastq.gz",
		"pair_files[0]=/in/S1_R2.fastq.gz",
		"file=${files[$SLURM_ARRAY_TASK_ID]}",
		"source activate qc-env",
		"echo run",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
}

func TestRenderScriptUnsharded(t *testing.T) {
	script, err := renderScript(validSpec())
	if err != nil {
		t.Fatalf("renderScript: %v", err)
	}
	if strings.Contains(script, "--array") {
		t.Errorf("unsharded script has array directive:\n%s", script)
	}
	if strings.Contains(script, "SLURM_ARRAY_TASK_ID") {
		t.Errorf("unsharded script indexes the array variable:\n%s", script)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Minute, "00:30:00"},
		{90 * time.Minute, "01:30:00"},
		{24 * time.Hour, "1-00:00:00"},
		{50*time.Hour + 15*time.Minute, "2-02:15:00"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseSacct(t *testing.T) {
	out := `123_0|COMPLETED|0:0
123_0.batch|COMPLETED|0:0
123_1|FAILED|1:0
123_2|COMPLETED|0:0
`
	tasks, err := parseSacct("123", out)
	if err != nil {
		t.Fatalf("parseSacct: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}

	r := &Result{JobID: "123", Tasks: tasks}
	failed := r.Failed()
	if len(failed) != 1 {
		t.Fatalf("got %d failed tasks, want 1", len(failed))
	}
	if failed[0].Index != 1 || failed[0].ExitCode != 1 {
		t.Errorf("failed task = %+v", failed[0])
	}
	if err := r.Err(); err == nil || !strings.Contains(err.Error(), "task 1 FAILED") {
		t.Errorf("Err() = %v", err)
	}
}

func TestParseSacctUnsharded(t *testing.T) {
	tasks, err := parseSacct("77", "77|COMPLETED|0:0\n77.batch|COMPLETED|0:0\n")
	if err != nil {
		t.Fatalf("parseSacct: %v", err)
	}
	if len(tasks) != 1 || !tasks[0].OK() {
		t.Errorf("tasks = %+v", tasks)
	}
	r := &Result{JobID: "77", Tasks: tasks}
	if err := r.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestParseSacctEmpty(t *testing.T) {
	if _, err := parseSacct("9", ""); err == nil {
		t.Error("expected error for empty accounting output")
	}
}

// fakeScheduler writes stand-in sbatch and sacct executables so Submit
// can be exercised end to end without a cluster.
func fakeScheduler(t *testing.T, dir string) (sbatch, sacct string) {
	t.Helper()
	sbatch = filepath.Join(dir, "sbatch")
	sacct = filepath.Join(dir, "sacct")

	if err := os.WriteFile(sbatch, []byte("#!/bin/sh\ncp \"$3\" "+dir+"/submitted.sbatch\necho 4242\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sacct, []byte("#!/bin/sh\necho '4242|COMPLETED|0:0'\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return sbatch, sacct
}

func TestSlurmSubmit(t *testing.T) {
	dir := t.TempDir()
	sbatch, sacct := fakeScheduler(t, dir)

	s := NewSlurm(WithSbatch(sbatch), WithSacct(sacct), WithWorkDir(dir))
	res, err := s.Submit(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.JobID != "4242" {
		t.Errorf("JobID = %q, want 4242", res.JobID)
	}
	if err := res.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}

	// The transient descriptor is removed after submission; only the
	// copy made by the fake sbatch and the fake binaries remain.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sbatch") && e.Name() != "submitted.sbatch" {
			t.Errorf("batch script %s not cleaned up", e.Name())
		}
	}

	submitted, err := os.ReadFile(filepath.Join(dir, "submitted.sbatch"))
	if err != nil {
		t.Fatalf("fake sbatch saw no script: %v", err)
	}
	if !strings.Contains(string(submitted), "#SBATCH --job-name=qc") {
		t.Errorf("submitted script lacks job name:\n%s", submitted)
	}
}
