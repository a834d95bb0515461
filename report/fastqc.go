package report

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// lengthBin is one row of a FastQC sequence-length distribution:
// a length (range midpoint) and the number of reads at it.
type lengthBin struct {
	length float64
	count  float64
}

// fastqcData holds the parts of a fastqc_data.txt file the report
// uses.
type fastqcData struct {
	lengths  []lengthBin
	adapters []string
}

// parseFastQCData extracts the sequence-length distribution and the
// overrepresented-sequence sources from a fastqc_data.txt stream.
//
// FastQC modules are delimited by ">>Name" and ">>END_MODULE" lines;
// length rows may carry a range ("50-54"), in which case the midpoint
// stands in for the bin.
func parseFastQCData(r io.Reader) (*fastqcData, error) {
	var d fastqcData
	seen := map[string]bool{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	module := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ">>END_MODULE"):
			module = ""
			continue
		case strings.HasPrefix(line, ">>"):
			module = strings.SplitN(strings.TrimPrefix(line, ">>"), "\t", 2)[0]
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		switch module {
		case "Sequence Length Distribution":
			fields := strings.Split(line, "\t")
			if len(fields) < 2 {
				continue
			}
			length, err := parseLengthField(fields[0])
			if err != nil {
				return nil, err
			}
			count, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("parsing fastqc length count %q: %w", fields[1], err)
			}
			d.lengths = append(d.lengths, lengthBin{length: length, count: count})

		case "Overrepresented sequences":
			fields := strings.Split(line, "\t")
			if len(fields) < 4 {
				continue
			}
			source := strings.TrimSpace(fields[3])
			if source == "" || source == "No Hit" || seen[source] {
				continue
			}
			seen[source] = true
			d.adapters = append(d.adapters, source)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading fastqc data: %w", err)
	}
	return &d, nil
}

// parseLengthField converts a FastQC length field, either a single
// value or a "lo-hi" range, to a representative length.
func parseLengthField(s string) (float64, error) {
	if i := strings.IndexByte(s, '-'); i >= 0 {
		lo, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("parsing fastqc length range %q: %w", s, err)
		}
		hi, err := strconv.ParseFloat(s[i+1:], 64)
		if err != nil {
			return 0, fmt.Errorf("parsing fastqc length range %q: %w", s, err)
		}
		return (lo + hi) / 2, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing fastqc length %q: %w", s, err)
	}
	return v, nil
}

// weightedMeanSD computes the count-weighted mean and standard
// deviation of a length histogram. Histogram-derived moments are
// weighted; directly scanned lengths are not. The asymmetry reflects
// the data each stage makes available.
func weightedMeanSD(bins []lengthBin) (mean, sd float64, err error) {
	var total, sum float64
	for _, b := range bins {
		total += b.count
		sum += b.length * b.count
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("empty length distribution")
	}
	mean = sum / total

	var sq float64
	for _, b := range bins {
		d := b.length - mean
		sq += b.count * d * d
	}
	return mean, math.Sqrt(sq / total), nil
}
