// Command mg-report summarizes a finished pipeline run: mean read
// lengths, reads remaining after each filtering stage, and the adapter
// content FastQC flagged.
//
// Usage:
//
//	mg-report [options] -o pipeline-root
//
// Tables are column-aligned when stdout is a terminal and
// tab-separated otherwise, so output can be piped into cut or awk.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mgpipe/mgpipe/internal/cli"
	"github.com/mgpipe/mgpipe/layout"
	"github.com/mgpipe/mgpipe/report"
)

var (
	root    string
	saveDir string
)

var rootCmd = &cobra.Command{
	Use:           "mg-report [options] -o pipeline-root",
	Short:         "Summarize a finished pipeline run",
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&root, "output", "o", "", "pipeline output tree root (required)")
	flags.StringVarP(&saveDir, "save", "s", "", "also write each table as a .tsv file into this directory")
}

func run(cmd *cobra.Command, args []string) error {
	if root == "" {
		return fmt.Errorf("a pipeline output root is required (use --output)")
	}

	mode := layout.Detect(root)
	r, err := report.Build(root, mode)
	if err != nil {
		return err
	}

	sections := []struct {
		title string
		file  string
		table *cli.Table
	}{
		{"Mean read length", "mean_read_length.tsv", r.MeanLength},
		{"Reads remaining", "reads_remaining.tsv", r.ReadsRemaining},
		{"Adapter content", "adapter_content.tsv", r.Adapters},
	}

	width := 0
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = w
		}
	}

	for i, s := range sections {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s\n\n", s.title)
		if err := writeTable(os.Stdout, s.table, width); err != nil {
			return err
		}
	}

	if saveDir == "" {
		return nil
	}
	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	for _, s := range sections {
		fid, err := os.Create(saveDir + "/" + s.file)
		if err != nil {
			return err
		}
		if err := s.table.WriteTab(fid); err != nil {
			fid.Close()
			return err
		}
		if err := fid.Close(); err != nil {
			return err
		}
	}
	return nil
}

func writeTable(w io.Writer, t *cli.Table, width int) error {
	if width > 0 {
		return t.WriteAligned(w, width)
	}
	return t.WriteTab(w)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cli.Fatal(err)
		os.Exit(1)
	}
}
