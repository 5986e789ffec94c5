// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var betaGlmConfig = &glm.Config{
	Family:    glm.NewFamily(glm.GaussianFamily),
	FitMethod: "IRLS",
	Log:       stdlog.New(io.Discard, "", 0),
}

// betaCheck compares effect sizes from a discovery GWAS against an
// existing summary-statistics file: SNPs are matched on chromosome,
// position and alleles, and concordance is reported as the Pearson
// correlation of the two beta columns plus a likelihood-ratio p-value
// for the regression slope.
type betaCheck struct {
	pMax float64
}

type variantKey struct {
	chrom   int64
	pos     int64
	allele0 string
	allele1 string
}

func (cmd *betaCheck) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	discoveryDir := flags.String("discovery-dir", ".", "`directory` holding extension-less discovery result files")
	assocFilename := flags.String("assoc", "", "reference association `file` (tab-separated, may be gzipped; required)")
	flags.Float64Var(&cmd.pMax, "p-max", 0.05, "keep reference rows with p_wald below this `threshold`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *assocFilename == "" {
		err = fmt.Errorf("-assoc is required")
		return 2
	}

	discovery, err := loadDiscoveryBetas(*discoveryDir)
	if err != nil {
		return 1
	}
	log.Infof("loaded %d discovery variants", len(discovery))

	reference, err := cmd.loadReferenceBetas(*assocFilename)
	if err != nil {
		return 1
	}
	log.Infof("loaded %d reference variants with p_wald < %g", len(reference), cmd.pMax)

	var x, y []float64
	for key, beta := range discovery {
		if ref, ok := reference[key]; ok {
			x = append(x, beta)
			y = append(y, ref)
		}
	}
	if len(x) < 3 {
		err = fmt.Errorf("only %d overlapping variants, need at least 3", len(x))
		return 1
	}
	r := stat.Correlation(x, y, nil)
	p := betaSlopePvalue(x, y)
	log.Infof("overlap %d variants: Pearson r = %.4f, slope p = %.4g", len(x), r, p)
	fmt.Fprintf(stdout, "n\t%d\nr\t%.6f\np\t%.4g\n", len(x), r, p)
	return 0
}

// loadDiscoveryBetas reads every extension-less file in dir
// (REGENIE-style whitespace-separated output, header line first):
// CHROM GENPOS ID ALLELE0 ALLELE1 A1FREQ INFO N TEST BETA ...
func loadDiscoveryBetas(dir string) (map[variantKey]float64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	betas := make(map[variantKey]float64)
	nfiles := 0
	for _, ent := range entries {
		if ent.IsDir() || strings.Contains(ent.Name(), ".") {
			continue
		}
		nfiles++
		f, err := os.Open(dir + "/" + ent.Name())
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(bufio.NewReaderSize(f, 1<<20))
		scanner.Buffer(nil, 1<<20)
		scanner.Scan() // skip header
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) < 10 {
				continue
			}
			key, ok := parseVariantKey(fields[0], fields[1], fields[3], fields[4])
			if !ok {
				continue
			}
			beta, err := strconv.ParseFloat(fields[9], 64)
			if err != nil {
				continue
			}
			betas[key] = beta
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	if nfiles == 0 {
		return nil, fmt.Errorf("no extension-less discovery files found in %s", dir)
	}
	return betas, nil
}

// loadReferenceBetas reads a GEMMA-style association file, keeping
// rows whose p_wald passes the filter. Columns are located by header
// name: chr, ps, allele0, allele1, beta, p_wald.
func (cmd *betaCheck) loadReferenceBetas(fnm string) (map[variantKey]float64, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rdr io.Reader = bufio.NewReaderSize(f, 1<<20)
	if strings.HasSuffix(fnm, ".gz") {
		gzr, err := pgzip.NewReader(rdr)
		if err != nil {
			return nil, err
		}
		defer gzr.Close()
		rdr = gzr
	}
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(nil, 1<<20)
	if !scanner.Scan() {
		return nil, fmt.Errorf("%s: empty file", fnm)
	}
	header := strings.Split(scanner.Text(), "\t")
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"chr", "ps", "allele0", "allele1", "beta", "p_wald"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", fnm, name)
		}
	}
	betas := make(map[variantKey]float64)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < len(header) {
			continue
		}
		pWald, err := strconv.ParseFloat(fields[col["p_wald"]], 64)
		if err != nil || pWald >= cmd.pMax {
			continue
		}
		key, ok := parseVariantKey(fields[col["chr"]], fields[col["ps"]], fields[col["allele0"]], fields[col["allele1"]])
		if !ok {
			continue
		}
		beta, err := strconv.ParseFloat(fields[col["beta"]], 64)
		if err != nil {
			continue
		}
		betas[key] = beta
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return betas, nil
}

func parseVariantKey(chrom, pos, allele0, allele1 string) (variantKey, bool) {
	c, err := strconv.ParseInt(chrom, 10, 64)
	if err != nil {
		return variantKey{}, false
	}
	p, err := strconv.ParseInt(pos, 10, 64)
	if err != nil {
		return variantKey{}, false
	}
	return variantKey{
		chrom:   c,
		pos:     p,
		allele0: strings.ToUpper(allele0),
		allele1: strings.ToUpper(allele1),
	}, true
}

// betaSlopePvalue runs a likelihood-ratio test of y ~ 1 against
// y ~ 1 + x with a Gaussian GLM.
func betaSlopePvalue(x, y []float64) (p float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			p = math.NaN()
		}
	}()

	constants := make([]statmodel.Dtype, len(y))
	for i := range constants {
		constants[i] = 1
	}

	dataNull := [][]statmodel.Dtype{y, constants}
	namesNull := []string{"outcome", "constants"}
	modelNull, err := glm.NewGLM(statmodel.NewDataset(dataNull, namesNull), "outcome", namesNull[1:], betaGlmConfig)
	if err != nil {
		return math.NaN()
	}
	logNull := modelNull.Fit().LogLike()

	dataFull := [][]statmodel.Dtype{y, x, constants}
	namesFull := []string{"outcome", "discovery", "constants"}
	modelFull, err := glm.NewGLM(statmodel.NewDataset(dataFull, namesFull), "outcome", namesFull[1:], betaGlmConfig)
	if err != nil {
		return math.NaN()
	}
	logFull := modelFull.Fit().LogLike()

	dist := distuv.ChiSquared{K: 1}
	return dist.Survival(-2 * (logNull - logFull))
}
