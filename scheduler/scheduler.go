// Package scheduler submits batch jobs to a cluster scheduler and
// blocks until they finish.
//
// Jobs are described by structured JobSpec values; serializing a spec
// to whatever the scheduler needs is the submitter implementation's
// concern, not the caller's. Submission is synchronous and returns a
// Result carrying the per-task outcome so callers can decide what to do
// about failures instead of discovering them downstream.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// JobSpec describes one schedulable unit of work.
type JobSpec struct {
	// Name is the scheduler job name.
	Name string

	// Partition is the scheduler partition (queue) to run on.
	Partition string

	// Time is the wall-clock limit.
	Time time.Duration

	// CPUs is the per-task core count.
	CPUs int

	// MemPerCPUMB is the per-core memory request in megabytes.
	MemPerCPUMB int

	// NotifyEmail, when set, receives the scheduler's failure
	// notification.
	NotifyEmail string

	// ArraySize shards the job over indices 0..ArraySize-1.
	// Zero means an unsharded single task.
	ArraySize int

	// Files is the file list the array indexes into; rendered into
	// the job environment. Empty for unsharded jobs.
	Files []string

	// PairFiles is the optional second file list for paired input,
	// aligned index-for-index with Files.
	PairFiles []string

	// Setup is the environment-activation line run before the
	// command, e.g. a conda activate invocation. May be empty.
	Setup string

	// Script is the command body, one shell line per element.
	Script []string

	// ErrorDir and OutputDir receive scheduler-captured stderr and
	// stdout per task.
	ErrorDir  string
	OutputDir string
}

// Validate checks the spec before submission.
func (s *JobSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("job spec: empty name")
	}
	if s.Partition == "" {
		return fmt.Errorf("job %s: empty partition", s.Name)
	}
	if s.Time <= 0 {
		return fmt.Errorf("job %s: non-positive time limit", s.Name)
	}
	if s.CPUs <= 0 {
		return fmt.Errorf("job %s: non-positive cpu count", s.Name)
	}
	if s.MemPerCPUMB <= 0 {
		return fmt.Errorf("job %s: non-positive mem-per-cpu", s.Name)
	}
	if len(s.Script) == 0 {
		return fmt.Errorf("job %s: empty script", s.Name)
	}
	if s.ArraySize > 0 && len(s.Files) != s.ArraySize {
		return fmt.Errorf("job %s: array size %d does not match %d files", s.Name, s.ArraySize, len(s.Files))
	}
	if len(s.PairFiles) > 0 && len(s.PairFiles) != len(s.Files) {
		return fmt.Errorf("job %s: %d pair files for %d files", s.Name, len(s.PairFiles), len(s.Files))
	}
	return nil
}

// TaskResult is the outcome of one array task (or of the single task
// for unsharded jobs).
type TaskResult struct {
	// Index is the array index, 0 for unsharded jobs.
	Index int

	// State is the scheduler's terminal state, e.g. COMPLETED,
	// FAILED, TIMEOUT, CANCELLED.
	State string

	// ExitCode is the task's exit code.
	ExitCode int
}

// OK reports whether the task completed successfully.
func (t TaskResult) OK() bool {
	return t.State == "COMPLETED" && t.ExitCode == 0
}

// Result is the outcome of a finished job.
type Result struct {
	// JobID is the scheduler's job identifier.
	JobID string

	// Tasks holds one entry per task.
	Tasks []TaskResult
}

// Failed returns the tasks that did not complete successfully.
func (r *Result) Failed() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if !t.OK() {
			out = append(out, t)
		}
	}
	return out
}

// Err returns nil if every task succeeded, otherwise an error naming
// the failed tasks.
func (r *Result) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, len(failed))
	for i, t := range failed {
		parts[i] = fmt.Sprintf("task %d %s (exit %d)", t.Index, t.State, t.ExitCode)
	}
	return fmt.Errorf("job %s: %s", r.JobID, strings.Join(parts, "; "))
}

// Submitter submits a job and blocks until the job and all of its
// array tasks have finished. Implementations must be safe for use from
// a single goroutine; the orchestrator runs stages strictly in
// sequence.
type Submitter interface {
	Submit(ctx context.Context, spec JobSpec) (*Result, error)
}
