// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	log "github.com/sirupsen/logrus"
)

// Files every protein directory is expected to carry. The GWAS
// runner writes these; anything missing means the run must be redone.
var (
	defaultOutputExpected = []string{
		"cs_all2.rds",
		"cs_female2.rds",
		"cs_male2.rds",
		"sig_summ_all2.assoc.tsv",
		"sig_summ_female2.assoc.tsv",
		"sig_summ_male2.assoc.tsv",
		"summ_all2.assoc.txt.gz",
		"summ_female2.assoc.txt.gz",
		"summ_male2.assoc.txt.gz",
		"summ_all.assoc.txt.gz",
		"summ_female.assoc.txt.gz",
		"summ_male.assoc.txt.gz",
	}
	defaultPlotExpected = []string{
		"all_Manhattan.png",
		"all_qqplot.png",
		"female_Manhattan.png",
		"female_qqplot.png",
		"male_Manhattan.png",
		"male_qqplot.png",
	}
)

type validationProblem struct {
	directory string
	kind      string // missing, outdated, missing-dir, extra-dir, extra-file
	detail    string
}

// validator checks a results tree for missing, outdated, or
// unexpected files, and writes a CSV report of anything wrong.
type validator struct {
	cutoff time.Time
	digest string
}

func (cmd *validator) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	baseDir := flags.String("dir", "", "base `directory` to validate (required)")
	reportFilename := flags.String("report", "missing_files.csv", "problem report CSV `file`")
	cutoff := flags.String("cutoff", "", "`date` (YYYY-MM-DD); files modified before it are reported as outdated")
	manifestFilename := flags.String("manifest", "", "rsID/sex manifest CSV `file`; validates effect-size trees instead of protein trees")
	flags.StringVar(&cmd.digest, "digest", "", "write blake2b-256 digests of present required files to this CSV `file` (\"\" = skip)")
	outputFiles := flags.String("output-files", strings.Join(defaultOutputExpected, ","), "comma-separated required `files` under each output directory")
	plotFiles := flags.String("plot-files", strings.Join(defaultPlotExpected, ","), "comma-separated required `files` under each plot directory")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *baseDir == "" {
		err = fmt.Errorf("-dir is required")
		return 2
	}
	if *cutoff != "" {
		cmd.cutoff, err = time.Parse("2006-01-02", *cutoff)
		if err != nil {
			return 2
		}
	}

	var problems []validationProblem
	if *manifestFilename != "" {
		problems, err = cmd.validateManifest(*baseDir, *manifestFilename)
	} else {
		problems, err = cmd.validateTree(*baseDir, splitList(*outputFiles), splitList(*plotFiles))
	}
	if err != nil {
		return 1
	}

	err = writeProblemReport(*reportFilename, problems)
	if err != nil {
		return 1
	}
	log.Infof("check complete: found %d problems, report written to %s", len(problems), *reportFilename)
	if len(problems) > 0 {
		return 1
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (cmd *validator) validateTree(baseDir string, outputExpected, plotExpected []string) ([]validationProblem, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}
	var digests [][2]string
	var problems []validationProblem
	checked := 0
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		checked++
		for subdir, expected := range map[string][]string{"output": outputExpected, "plot": plotExpected} {
			dir := filepath.Join(baseDir, ent.Name(), subdir)
			for _, fnm := range expected {
				path := filepath.Join(dir, fnm)
				fi, err := os.Stat(path)
				if err != nil {
					problems = append(problems, validationProblem{dir, "missing", fnm})
					continue
				}
				if !cmd.cutoff.IsZero() && fi.ModTime().Before(cmd.cutoff) {
					problems = append(problems, validationProblem{dir, "outdated", fmt.Sprintf("%s (modified %s)", fnm, fi.ModTime().Format("2006-01-02 15:04:05"))})
				}
				if cmd.digest != "" {
					sum, err := fileDigest(path)
					if err != nil {
						return nil, err
					}
					digests = append(digests, [2]string{path, sum})
				}
			}
		}
	}
	log.Infof("checked %d directories under %s", checked, baseDir)
	sortProblems(problems)
	if cmd.digest != "" {
		err = writeDigests(cmd.digest, digests)
		if err != nil {
			return nil, err
		}
	}
	return problems, nil
}

// validateManifest checks one directory per manifest rsID for the
// expected effect-size and volcano-plot files, and reports
// directories that exist without a manifest entry.
func (cmd *validator) validateManifest(baseDir, manifestFilename string) ([]validationProblem, error) {
	header, rows, err := readCSVFile(manifestFilename)
	if err != nil {
		return nil, err
	}
	rsIdx, sexIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(name) {
		case "rsid":
			rsIdx = i
		case "sex":
			sexIdx = i
		}
	}
	if rsIdx < 0 || sexIdx < 0 {
		return nil, fmt.Errorf("%s: must contain rsID and sex columns", manifestFilename)
	}

	expectedDirs := make(map[string]bool)
	var problems []validationProblem
	for _, row := range rows {
		if len(row) <= rsIdx || len(row) <= sexIdx || row[rsIdx] == "" {
			continue
		}
		rsid, sex := strings.TrimSpace(row[rsIdx]), strings.TrimSpace(row[sexIdx])
		expectedDirs[rsid] = true
		dir := filepath.Join(baseDir, rsid)
		expected := map[string]bool{
			"effect_size_" + sex + ".tsv":  true,
			"volcano_plot_" + sex + ".png": true,
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			problems = append(problems, validationProblem{baseDir, "missing-dir", rsid})
			continue
		}
		actual := make(map[string]bool)
		for _, ent := range entries {
			if !ent.IsDir() {
				actual[ent.Name()] = true
			}
		}
		for fnm := range expected {
			if !actual[fnm] {
				problems = append(problems, validationProblem{dir, "missing", fnm})
			}
		}
		for fnm := range actual {
			if !expected[fnm] {
				problems = append(problems, validationProblem{dir, "extra-file", fnm})
			}
		}
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}
	for _, ent := range entries {
		if ent.IsDir() && !expectedDirs[ent.Name()] {
			problems = append(problems, validationProblem{baseDir, "extra-dir", ent.Name()})
		}
	}
	sortProblems(problems)
	return problems, nil
}

func sortProblems(problems []validationProblem) {
	sort.Slice(problems, func(i, j int) bool {
		if problems[i].directory != problems[j].directory {
			return problems[i].directory < problems[j].directory
		}
		if problems[i].kind != problems[j].kind {
			return problems[i].kind < problems[j].kind
		}
		return problems[i].detail < problems[j].detail
	})
}

func writeProblemReport(fnm string, problems []validationProblem) error {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	err = w.Write([]string{"directory", "problem", "detail"})
	if err != nil {
		return err
	}
	for _, p := range problems {
		err = w.Write([]string{p.directory, p.kind, p.detail})
		if err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func fileDigest(fnm string) (string, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(h, f)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func writeDigests(fnm string, digests [][2]string) error {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	sort.Slice(digests, func(i, j int) bool { return digests[i][0] < digests[j][0] })
	w := csv.NewWriter(f)
	err = w.Write([]string{"path", "blake2b"})
	if err != nil {
		return err
	}
	for _, d := range digests {
		err = w.Write([]string{d[0], d[1]})
		if err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
