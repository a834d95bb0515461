// Package cli provides shared option handling for the mg-* command-line
// tools.
//
// Every stage command carries the same scheduler resource flags and the
// same pipeline-root flag; this package defines them once, applies site
// defaults from the optional config file, and validates them before
// anything is submitted.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// SchedulerOptions contains the standard cluster resource options.
type SchedulerOptions struct {
	// Partition is the scheduler partition (queue) for the stage jobs.
	Partition string

	// Time is the wall-clock limit per job.
	Time time.Duration

	// CPUs is the per-task core count.
	CPUs int

	// MemPerCPUMB is the per-core memory request in megabytes.
	MemPerCPUMB int

	// NotifyEmail receives the scheduler's failure notifications.
	NotifyEmail string

	// EnvActivate is the program-environment activation line run at
	// the top of every job, e.g. "source activate biotools".
	EnvActivate string
}

// AddSchedulerFlags adds the standard scheduler resource flags to a
// cobra command.
func AddSchedulerFlags(cmd *cobra.Command, opts *SchedulerOptions) {
	flags := cmd.Flags()

	flags.StringVarP(&opts.Partition, "partition", "p", "",
		"scheduler partition to submit to")
	flags.DurationVarP(&opts.Time, "time", "t", 0,
		"wall-clock limit per job (e.g. 90m, 12h)")
	flags.IntVarP(&opts.CPUs, "cpus", "c", 0,
		"cores per task")
	flags.IntVar(&opts.MemPerCPUMB, "mem-per-cpu", 0,
		"memory per core in megabytes")
	flags.StringVarP(&opts.NotifyEmail, "notify", "n", "",
		"e-mail address for scheduler failure notifications")
	flags.StringVarP(&opts.EnvActivate, "env", "e", "",
		"environment activation command run before each stage command")
}

// Validate checks the scheduler options. The e-mail check is the weak
// contains-@ rule; notifications are best-effort and the scheduler
// rejects genuinely malformed addresses itself.
func (o *SchedulerOptions) Validate() error {
	if o.Partition == "" {
		return fmt.Errorf("a partition is required (use --partition or the config file)")
	}
	if o.Time <= 0 {
		return fmt.Errorf("a positive wall-clock limit is required (use --time)")
	}
	if o.CPUs <= 0 {
		return fmt.Errorf("a positive core count is required (use --cpus)")
	}
	if o.MemPerCPUMB <= 0 {
		return fmt.Errorf("a positive mem-per-cpu is required (use --mem-per-cpu)")
	}
	if o.NotifyEmail != "" && !strings.Contains(o.NotifyEmail, "@") {
		return fmt.Errorf("notify address %q does not look like an e-mail address", o.NotifyEmail)
	}
	return nil
}

// RootOptions contains the options shared by every stage command.
type RootOptions struct {
	// Root is the pipeline output tree root.
	Root string

	// Input is the raw sequence directory. Samples are resolved from
	// it, and stages with no upstream directory read from it.
	Input string
}

// AddRootFlags adds the pipeline root and input flags to a cobra
// command.
func AddRootFlags(cmd *cobra.Command, opts *RootOptions) {
	flags := cmd.Flags()

	flags.StringVarP(&opts.Root, "output", "o", "",
		"pipeline output tree root (required)")
	flags.StringVarP(&opts.Input, "input", "i", "",
		"raw sequence directory (required)")
}

// Validate checks that the pipeline root is set and exists.
func (o *RootOptions) Validate() error {
	if o.Root == "" {
		return fmt.Errorf("a pipeline output root is required (use --output)")
	}
	if o.Input == "" {
		return fmt.Errorf("a raw sequence directory is required (use --input)")
	}
	info, err := os.Stat(o.Root)
	if err != nil {
		return fmt.Errorf("pipeline root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("pipeline root %s is not a directory", o.Root)
	}
	return nil
}

// Fatal prints an ERROR-labelled message to stderr. Commands call this
// before exiting 1.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
}
