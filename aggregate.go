// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// aggregator builds a SNP × phenotype matrix: one row per BIM marker,
// one column per phenotype directory, filled from each phenotype's
// gzipped association file.
type aggregator struct {
	field     string
	assocName string
}

func (cmd *aggregator) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	bimFilename := flags.String("bim", "", "PLINK BIM `file` listing the markers (required)")
	baseDir := flags.String("dir", "", "base `directory` with one subdirectory per phenotype (required)")
	flags.StringVar(&cmd.field, "field", "p_wald", "association-file `column` to aggregate (e.g. p_wald, pip_susie)")
	flags.StringVar(&cmd.assocName, "assoc-name", "summ_all.assoc.txt.gz", "association `filename` under each phenotype's output directory")
	outputFilename := flags.String("o", "-", "output table container `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *bimFilename == "" || *baseDir == "" {
		err = fmt.Errorf("-bim and -dir are required")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	chr, rs, err := readBIM(*bimFilename)
	if err != nil {
		return 1
	}
	log.Infof("loaded %d markers from %s", len(rs), *bimFilename)

	phenotypes, err := listPhenotypes(*baseDir)
	if err != nil {
		return 1
	}
	log.Infof("found %d phenotype directories", len(phenotypes))

	tab := &SNPTable{Chr: chr, RS: rs, Columns: phenotypes}
	tab.Values = make([]float32, len(rs)*len(phenotypes))
	for i := range tab.Values {
		tab.Values[i] = nan32
	}

	filled := 0
	for col, pheno := range phenotypes {
		fnm := filepath.Join(*baseDir, pheno, "output", cmd.assocName)
		assoc, err2 := loadAssociations(fnm, cmd.field)
		if err2 != nil {
			log.Warnf("skipping %s: %s", pheno, err2)
			continue
		}
		n := 0
		for i, id := range rs {
			if v, ok := assoc[id]; ok {
				tab.Values[i*len(phenotypes)+col] = v
				n++
			}
		}
		log.Infof("%s: filled %d of %d markers (%d/%d)", pheno, n, len(rs), col+1, len(phenotypes))
		filled++
	}
	log.Infof("aggregated %d of %d phenotypes", filled, len(phenotypes))

	dropAllMissingColumns(tab)

	missing, pct := tab.MissingStats()
	log.Infof("missing values: %d (%.2f%%)", missing, pct)

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	meta := newTableMetadata("aggregated "+cmd.field+" matrix", "")
	err = WriteSNPTable(output, tab, meta)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

// readBIM reads the first two columns (chromosome, rs ID) of a
// tab-separated PLINK BIM file.
func readBIM(fnm string) ([]int32, []string, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	var chr []int32
	var rs []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, 1<<20)
	for lineno := 1; scanner.Scan(); lineno++ {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 2 {
			return nil, nil, fmt.Errorf("%s line %d: expected ≥2 tab-separated fields, got %d", fnm, lineno, len(fields))
		}
		c, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("%s line %d: bad chromosome %q", fnm, lineno, fields[0])
		}
		chr = append(chr, int32(c))
		rs = append(rs, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(rs) == 0 {
		return nil, nil, fmt.Errorf("%s: no markers", fnm)
	}
	return chr, rs, nil
}

func listPhenotypes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var phenotypes []string
	for _, ent := range entries {
		if ent.IsDir() {
			phenotypes = append(phenotypes, ent.Name())
		}
	}
	sort.Strings(phenotypes)
	if len(phenotypes) == 0 {
		return nil, fmt.Errorf("%s: no phenotype directories", dir)
	}
	return phenotypes, nil
}

// loadAssociations reads one gzipped tab-separated association file
// and returns rs → field value. The rs column is located by header
// name, falling back to the conventional second column; the value
// column by name, falling back to the last column.
func loadAssociations(fnm, field string) (map[string]float32, error) {
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
	rsIdx, fieldIdx := 1, len(header)-1
	for i, name := range header {
		switch name {
		case "rs":
			rsIdx = i
		case field:
			fieldIdx = i
		}
	}
	if rsIdx >= len(header) || fieldIdx >= len(header) {
		return nil, fmt.Errorf("%s: header has only %d columns", fnm, len(header))
	}
	assoc := make(map[string]float32)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) <= rsIdx || len(fields) <= fieldIdx {
			continue
		}
		v, err := strconv.ParseFloat(fields[fieldIdx], 32)
		if err != nil {
			continue
		}
		assoc[fields[rsIdx]] = float32(v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return assoc, nil
}

// dropAllMissingColumns removes columns with no data at all, which
// happens when a phenotype's association file is missing or matches
// no markers.
func dropAllMissingColumns(t *SNPTable) {
	rows, cols := t.Dims()
	keep := make([]bool, cols)
	nKeep := 0
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			if !isNaN32(t.Values[i*cols+j]) {
				keep[j] = true
				nKeep++
				break
			}
		}
	}
	if nKeep == cols {
		return
	}
	var dropped []string
	newColumns := make([]string, 0, nKeep)
	for j, k := range keep {
		if k {
			newColumns = append(newColumns, t.Columns[j])
		} else {
			dropped = append(dropped, t.Columns[j])
		}
	}
	newValues := make([]float32, rows*nKeep)
	for i := 0; i < rows; i++ {
		w := i * nKeep
		for j := 0; j < cols; j++ {
			if keep[j] {
				newValues[w] = t.Values[i*cols+j]
				w++
			}
		}
	}
	t.Columns = newColumns
	t.Values = newValues
	log.Warnf("dropped %d empty columns: %s", len(dropped), strings.Join(dropped, ", "))
}
