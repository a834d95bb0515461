package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mgpipe/mgpipe/layout"
	"github.com/mgpipe/mgpipe/scheduler"
)

// Stage executors. Each builds the job specs for one stage from the
// resolved input set. The external tools are opaque collaborators: the
// contract is the declared input/output file set, not the flags.

// sampleNameLines derives the sample key from the current array file
// inside the job script, mirroring the resolver's key rule.
func sampleNameLines(shape ShapeMode) []string {
	lines := []string{`sample=$(basename "${file}")`}
	if shape == ShapePaired || shape == ShapeJoined {
		return append(lines, `sample=${sample%%_R1*}`)
	}
	return append(lines,
		`sample=${sample%.gz}`,
		`sample=${sample%.*}`,
	)
}

func (r *Runner) fastqcSpecs(stage layout.Stage, in *inputSet, outDir string) ([]scheduler.JobSpec, error) {
	name := "fastqc_initial"
	if stage == layout.FastQCFinal {
		name = "fastqc_final"
	}
	spec := r.arraySpec(name, outDir, in)
	spec.Script = []string{
		fmt.Sprintf(`fastqc "${file}" --extract -o %s -t %d`, outDir, r.cfg.CPUs),
	}
	return []scheduler.JobSpec{spec}, nil
}

func (r *Runner) mergeSpecs(in *inputSet, outDir string) ([]scheduler.JobSpec, error) {
	if in.shape != ShapePaired {
		return nil, fmt.Errorf("stage merge: input is not paired")
	}
	spec := r.arraySpec("merge", outDir, in)
	spec.Script = append(sampleNameLines(ShapePaired),
		fmt.Sprintf(`bbmerge.sh in1="${file}" in2="${pair_file}" out=%[1]s/"${sample}".fastq.gz t=%[2]d &> %[1]s/"${sample}".log`,
			outDir, r.cfg.CPUs),
	)
	return []scheduler.JobSpec{spec}, nil
}

func (r *Runner) qcSpecs(in *inputSet, outDir string) ([]scheduler.JobSpec, error) {
	spec := r.arraySpec("qc", outDir, in)
	const opts = "ref=adapters ktrim=r k=23 mink=11 hdist=1 qtrim=rl trimq=10 minlen=60"

	var run string
	if in.shape == ShapePaired {
		run = fmt.Sprintf(`bbduk.sh in="${file}" in2="${pair_file}" out=%[1]s/"${sample}"_R1.fastq.gz out2=%[1]s/"${sample}"_R2.fastq.gz stats=%[1]s/"${sample}"_stats.txt %[2]s t=%[3]d &> %[1]s/"${sample}".log`,
			outDir, opts, r.cfg.CPUs)
	} else {
		run = fmt.Sprintf(`bbduk.sh in="${file}" out=%[1]s/"${sample}".fastq.gz stats=%[1]s/"${sample}"_stats.txt %[2]s t=%[3]d &> %[1]s/"${sample}".log`,
			outDir, opts, r.cfg.CPUs)
	}
	spec.Script = append(sampleNameLines(in.shape), run)
	return []scheduler.JobSpec{spec}, nil
}

func (r *Runner) decontamSpecs(in *inputSet, outDir string) ([]scheduler.JobSpec, error) {
	if err := checkFile(r.cfg.HostReference, "host reference"); err != nil {
		return nil, err
	}

	spec := r.arraySpec("decontam", outDir, in)
	var run string
	if in.shape == ShapePaired {
		run = fmt.Sprintf(`bbduk.sh in="${file}" in2="${pair_file}" out=%[1]s/"${sample}"_R1.fastq.gz out2=%[1]s/"${sample}"_R2.fastq.gz outm=%[1]s/"${sample}"_host_reads_R1.fastq.gz outm2=%[1]s/"${sample}"_host_reads_R2.fastq.gz ref=%[2]s k=31 refstats=%[1]s/"${sample}"_refstats.txt t=%[3]d &> %[1]s/"${sample}".log`,
			outDir, r.cfg.HostReference, r.cfg.CPUs)
	} else {
		run = fmt.Sprintf(`bbduk.sh in="${file}" out=%[1]s/"${sample}".fastq.gz outm=%[1]s/"${sample}"_host_reads.fastq.gz ref=%[2]s k=31 refstats=%[1]s/"${sample}"_refstats.txt t=%[3]d &> %[1]s/"${sample}".log`,
			outDir, r.cfg.HostReference, r.cfg.CPUs)
	}
	spec.Script = append(sampleNameLines(in.shape), run)
	return []scheduler.JobSpec{spec}, nil
}

func (r *Runner) entropySpecs(in *inputSet, outDir string) ([]scheduler.JobSpec, error) {
	spec := r.arraySpec("entropy_filter", outDir, in)
	var run string
	if in.shape == ShapePaired {
		run = fmt.Sprintf(`bbduk.sh in="${file}" in2="${pair_file}" out=%[1]s/"${sample}"_R1.fastq.gz out2=%[1]s/"${sample}"_R2.fastq.gz outm=%[1]s/"${sample}"_low_complexity_reads_R1.fastq.gz outm2=%[1]s/"${sample}"_low_complexity_reads_R2.fastq.gz entropy=0.7 entropywindow=50 t=%[2]d &> %[1]s/"${sample}".log`,
			outDir, r.cfg.CPUs)
	} else {
		run = fmt.Sprintf(`bbduk.sh in="${file}" out=%[1]s/"${sample}".fastq.gz outm=%[1]s/"${sample}"_low_complexity_reads.fastq.gz entropy=0.7 entropywindow=50 t=%[2]d &> %[1]s/"${sample}".log`,
			outDir, r.cfg.CPUs)
	}
	spec.Script = append(sampleNameLines(in.shape), run)
	return []scheduler.JobSpec{spec}, nil
}

// joinedInputLines produces a temporary concatenated file for tools
// that take a single read stream. Gzip streams concatenate as-is. The
// joined file lives in the output tree and is removed after use; for
// already-merged input the file is used directly.
func joinedInputLines(shape ShapeMode, outDir string) (setup, cleanup []string, joined string) {
	if shape != ShapePaired {
		return nil, nil, `"${file}"`
	}
	joined = fmt.Sprintf(`%s/"${sample}"_joined.fastq.gz`, outDir)
	setup = []string{fmt.Sprintf(`cat "${file}" "${pair_file}" > %s`, joined)}
	cleanup = []string{fmt.Sprintf(`rm -f %s`, joined)}
	return setup, cleanup, joined
}

func (r *Runner) taxonomicSpecs(in *inputSet, outDir string) ([]scheduler.JobSpec, error) {
	if err := checkFile(filepath.Join(r.cfg.Kraken2DB, "hash.k2d"), "kraken2 database"); err != nil {
		return nil, err
	}
	if err := checkDir(r.cfg.MetaphlanDB, "metaphlan database"); err != nil {
		return nil, err
	}

	profile := r.arraySpec("taxonomic_profiling", outDir, in)
	script := sampleNameLines(in.shape)

	if in.shape == ShapePaired {
		script = append(script,
			fmt.Sprintf(`kraken2 --db %[1]s --paired "${file}" "${pair_file}" --threads %[2]d --report %[3]s/"${sample}"_kraken2_report.txt --output %[3]s/"${sample}"_kraken2_output.txt`,
				r.cfg.Kraken2DB, r.cfg.CPUs, outDir),
		)
	} else {
		script = append(script,
			fmt.Sprintf(`kraken2 --db %[1]s "${file}" --threads %[2]d --report %[3]s/"${sample}"_kraken2_report.txt --output %[3]s/"${sample}"_kraken2_output.txt`,
				r.cfg.Kraken2DB, r.cfg.CPUs, outDir),
		)
	}
	script = append(script,
		fmt.Sprintf(`bracken -d %[1]s -i %[2]s/"${sample}"_kraken2_report.txt -o %[2]s/"${sample}"_bracken.txt`,
			r.cfg.Kraken2DB, outDir),
	)

	setup, cleanup, joined := joinedInputLines(in.shape, outDir)
	script = append(script, setup...)
	script = append(script,
		fmt.Sprintf(`metaphlan %[1]s --input_type fastq --bowtie2db %[2]s --nproc %[3]d --bowtie2out %[4]s/"${sample}"_bowtie2.bz2 -o %[4]s/"${sample}"_metaphlan_profile.txt`,
			joined, r.cfg.MetaphlanDB, r.cfg.CPUs, outDir),
	)
	script = append(script, cleanup...)
	profile.Script = script

	merge := r.baseSpec("taxonomic_merge", outDir)
	merge.Script = []string{
		fmt.Sprintf(`merge_metaphlan_tables.py %[1]s/*_metaphlan_profile.txt > %[1]s/metaphlan_merged_abundance_table.txt`, outDir),
		fmt.Sprintf(`combine_bracken_outputs.py --files %[1]s/*_bracken.txt -o %[1]s/bracken_combined_abundance_table.txt`, outDir),
	}

	return []scheduler.JobSpec{profile, merge}, nil
}

func (r *Runner) functionalSpecs(in *inputSet, outDir string) ([]scheduler.JobSpec, error) {
	if err := checkDir(r.cfg.HumannNucDB, "humann nucleotide database"); err != nil {
		return nil, err
	}
	if err := checkDir(r.cfg.HumannProtDB, "humann protein database"); err != nil {
		return nil, err
	}

	taxDir, err := layout.OutputDir(r.cfg.Root, layout.TaxonomicProfiling, r.cfg.Mode)
	if err != nil {
		return nil, err
	}

	profile := r.arraySpec("functional_profiling", outDir, in)
	setup, cleanup, joined := joinedInputLines(in.shape, outDir)

	script := sampleNameLines(in.shape)
	script = append(script, setup...)
	script = append(script,
		fmt.Sprintf(`humann --input %[1]s --output %[2]s --threads %[3]d --nucleotide-database %[4]s --protein-database %[5]s --taxonomic-profile %[6]s/"${sample}"_metaphlan_profile.txt`,
			joined, outDir, r.cfg.CPUs, r.cfg.HumannNucDB, r.cfg.HumannProtDB, taxDir),
	)
	script = append(script, cleanup...)
	profile.Script = script

	merge := r.baseSpec("functional_merge", outDir)
	merge.Script = []string{
		fmt.Sprintf(`humann_join_tables --input %[1]s --output %[1]s/genefamilies_joined.tsv --file_name genefamilies`, outDir),
		fmt.Sprintf(`humann_join_tables --input %[1]s --output %[1]s/pathabundance_joined.tsv --file_name pathabundance`, outDir),
		fmt.Sprintf(`humann_join_tables --input %[1]s --output %[1]s/pathcoverage_joined.tsv --file_name pathcoverage`, outDir),
	}

	return []scheduler.JobSpec{profile, merge}, nil
}

// checkFile verifies a required file exists before anything is
// submitted.
func checkFile(path, what string) error {
	if path == "" {
		return fmt.Errorf("no %s configured", what)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s %s is a directory, expected a file", what, path)
	}
	return nil
}

// checkDir verifies a required directory exists.
func checkDir(path, what string) error {
	if path == "" {
		return fmt.Errorf("no %s configured", what)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %s is not a directory", what, path)
	}
	return nil
}
