package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Slurm submits jobs through sbatch and reads per-task outcomes back
// through sacct.
type Slurm struct {
	sbatch  string
	sacct   string
	workDir string
}

// SlurmOption is a functional option for configuring the submitter.
type SlurmOption func(*Slurm)

// WithSbatch overrides the sbatch executable path.
func WithSbatch(path string) SlurmOption {
	return func(s *Slurm) { s.sbatch = path }
}

// WithSacct overrides the sacct executable path.
func WithSacct(path string) SlurmOption {
	return func(s *Slurm) { s.sacct = path }
}

// WithWorkDir sets the directory batch scripts are written to. Scripts
// get unique names, so concurrent pipeline invocations sharing a
// working directory cannot clobber each other's descriptors.
func WithWorkDir(dir string) SlurmOption {
	return func(s *Slurm) { s.workDir = dir }
}

// NewSlurm creates a Slurm submitter.
func NewSlurm(opts ...SlurmOption) *Slurm {
	s := &Slurm{
		sbatch: "sbatch",
		sacct:  "sacct",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var scriptTemplate = template.Must(template.New("batch").Parse(`#!/bin/bash
#SBATCH --job-name={{.Name}}
#SBATCH --partition={{.Partition}}
#SBATCH --time={{.TimeSpec}}
#SBATCH --cpus-per-task={{.CPUs}}
#SBATCH --mem-per-cpu={{.MemPerCPUMB}}M
{{- if .NotifyEmail}}
#SBATCH --mail-type=FAIL
#SBATCH --mail-user={{.NotifyEmail}}
{{- end}}
{{- if .ErrorDir}}
#SBATCH --error={{.ErrorDir}}/{{.Name}}_%A_%a.err
{{- end}}
{{- if .OutputDir}}
#SBATCH --output={{.OutputDir}}/{{.Name}}_%A_%a.out
{{- end}}
{{- if gt .ArraySize 0}}
#SBATCH --array=0-{{.LastIndex}}

{{range $i, $f := .Files}}files[{{$i}}]={{$f}}
{{end}}
{{- if .PairFiles}}
{{range $i, $f := .PairFiles}}pair_files[{{$i}}]={{$f}}
{{end}}
{{- end}}
file=${files[$SLURM_ARRAY_TASK_ID]}
pair_file=${pair_files[$SLURM_ARRAY_TASK_ID]}
{{- end}}
{{- if .Setup}}

{{.Setup}}
{{- end}}

{{range .Script}}{{.}}
{{end}}`))

type scriptData struct {
	JobSpec
	TimeSpec  string
	LastIndex int
}

// renderScript serializes the spec into an sbatch script.
func renderScript(spec JobSpec) (string, error) {
	var buf bytes.Buffer
	data := scriptData{
		JobSpec:   spec,
		TimeSpec:  formatDuration(spec.Time),
		LastIndex: spec.ArraySize - 1,
	}
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering batch script: %w", err)
	}
	return buf.String(), nil
}

// formatDuration renders a duration in the scheduler's D-HH:MM:SS form.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, mins, secs)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, mins, secs)
}

// Submit writes the batch script to a uniquely named file, runs
// sbatch --wait on it, removes the script, and collects per-task
// outcomes from sacct. It blocks until the job and all array tasks
// have finished.
func (s *Slurm) Submit(ctx context.Context, spec JobSpec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	script, err := renderScript(spec)
	if err != nil {
		return nil, err
	}

	fid, err := os.CreateTemp(s.workDir, spec.Name+"-*.sbatch")
	if err != nil {
		return nil, fmt.Errorf("creating batch script: %w", err)
	}
	scriptPath := fid.Name()
	defer os.Remove(scriptPath)

	if _, err := fid.WriteString(script); err != nil {
		fid.Close()
		return nil, fmt.Errorf("writing batch script: %w", err)
	}
	if err := fid.Close(); err != nil {
		return nil, fmt.Errorf("writing batch script: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.sbatch, "--wait", "--parsable", scriptPath)
	out, err := cmd.Output()
	jobID := strings.TrimSpace(string(out))
	// With --parsable the job ID may carry a ";cluster" suffix.
	if i := strings.IndexByte(jobID, ';'); i >= 0 {
		jobID = jobID[:i]
	}
	if err != nil {
		// sbatch --wait exits non-zero when any task fails; if we
		// got a job ID the job ran, and sacct has the details.
		if jobID == "" {
			return nil, fmt.Errorf("submitting job %s: %w", spec.Name, err)
		}
	}

	tasks, err := s.queryTasks(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Result{JobID: jobID, Tasks: tasks}, nil
}

// queryTasks reads the terminal state of every task of a job.
func (s *Slurm) queryTasks(ctx context.Context, jobID string) ([]TaskResult, error) {
	cmd := exec.CommandContext(ctx, s.sacct,
		"-j", jobID,
		"--format=JobID,State,ExitCode",
		"--parsable2", "--noheader")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("querying job %s state: %w", jobID, err)
	}
	return parseSacct(jobID, string(out))
}

// parseSacct extracts per-task results from parsable2 sacct output.
// Rows for job steps (ID containing a dot) are ignored; only the job
// and array-task rows count.
func parseSacct(jobID, out string) ([]TaskResult, error) {
	var tasks []TaskResult
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 3 {
			continue
		}
		id, state, exit := fields[0], fields[1], fields[2]
		if strings.ContainsRune(id, '.') {
			continue
		}

		index := 0
		if i := strings.IndexByte(id, '_'); i >= 0 {
			n, err := strconv.Atoi(id[i+1:])
			if err != nil {
				// Pending array spans like "12_[3-7]" should not
				// appear once --wait has returned.
				continue
			}
			index = n
		}

		code := 0
		if i := strings.IndexByte(exit, ':'); i >= 0 {
			exit = exit[:i]
		}
		if n, err := strconv.Atoi(exit); err == nil {
			code = n
		}

		// States can carry qualifiers like "CANCELLED by 123".
		if i := strings.IndexByte(state, ' '); i >= 0 {
			state = state[:i]
		}

		tasks = append(tasks, TaskResult{Index: index, State: state, ExitCode: code})
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("job %s: no task records in accounting output", jobID)
	}
	return tasks, nil
}
