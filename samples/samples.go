// Package samples resolves raw sequencing input directories into an
// ordered list of samples.
//
// A sample is identified by the file-name prefix before the "_R1"/"_R2"
// read markers, or before the extension for pre-merged files. The
// resolved order is lexicographic by raw file path and is stable across
// repeated calls on an unchanged directory; every later stage fans out
// over the same order, so stability is a correctness requirement, not a
// nicety.
package samples

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions lists the recognized raw-file extension conventions, most
// specific first. Exactly one convention may be present in an input
// directory.
var Extensions = []string{"fastq.gz", "fastq", "fq.gz", "fq"}

// Sample is one resolved sequencing sample.
type Sample struct {
	// Key is the sample identifier derived from the file name.
	Key string

	// R1 is the path to the forward-read file, or the single file
	// for pre-merged input.
	R1 string

	// R2 is the path to the reverse-read file. Empty for pre-merged
	// input.
	R2 string

	// Ext is the extension convention shared by the input directory,
	// e.g. "fastq.gz".
	Ext string
}

// Paired reports whether the sample has separate forward and reverse
// read files.
func (s Sample) Paired() bool {
	return s.R2 != ""
}

// Resolve enumerates the samples in dir.
//
// The directory must exist and contain sequence files under exactly one
// extension convention. Files carrying "_R1"/"_R2" markers are resolved
// as pairs; the set of R1-derived keys must equal the set of R2-derived
// keys, and any unmatched key is fatal. A directory with no read
// markers is resolved as pre-merged singletons.
func Resolve(dir string) ([]Sample, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving samples: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("resolving samples: %s is not a directory", dir)
	}

	ext, files, err := DetectExtension(dir)
	if err != nil {
		return nil, err
	}

	r1 := map[string]string{}
	r2 := map[string]string{}
	var merged []string
	for _, f := range files {
		base := filepath.Base(f)
		switch {
		case strings.Contains(base, "_R1"):
			r1[keyBefore(base, "_R1")] = f
		case strings.Contains(base, "_R2"):
			r2[keyBefore(base, "_R2")] = f
		default:
			merged = append(merged, f)
		}
	}

	if len(r1) > 0 || len(r2) > 0 {
		if len(merged) > 0 {
			return nil, fmt.Errorf("resolving samples: %s mixes paired (_R1/_R2) and unpaired files", dir)
		}
		return resolvePairs(r1, r2, ext)
	}

	sort.Strings(merged)
	out := make([]Sample, 0, len(merged))
	for _, f := range merged {
		key := strings.TrimSuffix(filepath.Base(f), "."+ext)
		out = append(out, Sample{Key: key, R1: f, Ext: ext})
	}
	return out, nil
}

// resolvePairs validates R1/R2 key sets against each other and builds
// the ordered pair list.
func resolvePairs(r1, r2 map[string]string, ext string) ([]Sample, error) {
	var missing []string
	for k := range r1 {
		if _, ok := r2[k]; !ok {
			missing = append(missing, k+" (no _R2)")
		}
	}
	for k := range r2 {
		if _, ok := r1[k]; !ok {
			missing = append(missing, k+" (no _R1)")
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("resolving samples: unpaired read files: %s", strings.Join(missing, ", "))
	}

	out := make([]Sample, 0, len(r1))
	for k, f := range r1 {
		out = append(out, Sample{Key: k, R1: f, R2: r2[k], Ext: ext})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].R1 < out[j].R1 })
	return out, nil
}

// DetectExtension determines the single extension convention used in
// dir and returns it along with the sorted list of matching files.
func DetectExtension(dir string) (string, []string, error) {
	found := map[string][]string{}
	for _, ext := range Extensions {
		matches, err := filepath.Glob(filepath.Join(dir, "*."+ext))
		if err != nil {
			return "", nil, fmt.Errorf("globbing %s: %w", dir, err)
		}
		found[ext] = append(found[ext], matches...)
	}

	var present []string
	for _, ext := range Extensions {
		if len(found[ext]) > 0 {
			present = append(present, ext)
		}
	}
	switch len(present) {
	case 0:
		return "", nil, fmt.Errorf("resolving samples: no fastq/fq files found in %s", dir)
	case 1:
	default:
		return "", nil, fmt.Errorf("resolving samples: %s mixes extensions (%s)", dir, strings.Join(present, ", "))
	}

	files := found[present[0]]
	sort.Strings(files)
	return present[0], files, nil
}

// keyBefore returns the sample key preceding the given marker.
func keyBefore(name, marker string) string {
	return name[:strings.Index(name, marker)]
}

// Keys returns the resolved sample keys in order.
func Keys(list []Sample) []string {
	keys := make([]string, len(list))
	for i, s := range list {
		keys[i] = s.Key
	}
	return keys
}
