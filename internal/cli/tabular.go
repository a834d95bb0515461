package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Table is a header row plus data rows, all tab-delimited on output.
type Table struct {
	Header []string
	Rows   [][]string
}

// Append adds a row. The row length must match the header.
func (t *Table) Append(row []string) error {
	if len(row) != len(t.Header) {
		return fmt.Errorf("row has %d fields, header has %d", len(row), len(t.Header))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// WriteTab writes the table tab-delimited with a header row.
func (t *Table) WriteTab(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(t.Header, "\t") + "\n"); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if _, err := bw.WriteString(strings.Join(row, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteAligned writes the table padded into aligned columns for
// terminal display, truncating to width columns when width is
// positive.
func (t *Table) WriteAligned(w io.Writer, width int) error {
	widths := make([]int, len(t.Header))
	for i, h := range t.Header {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	bw := bufio.NewWriter(w)
	writeRow := func(row []string) error {
		var b strings.Builder
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
			}
		}
		line := b.String()
		if width > 0 && len(line) > width {
			line = line[:width]
		}
		_, err := bw.WriteString(line + "\n")
		return err
	}

	if err := writeRow(t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := writeRow(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}
