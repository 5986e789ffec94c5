// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// assocMerger joins screened SNP–protein hits with the full
// association statistics from each protein's gzipped summary file,
// one worker per protein.
type assocMerger struct {
	threads int
}

type proteinGroup struct {
	protein string
	rows    [][]string // original hit rows
	merged  [][]string // hit rows + association stats, filled by worker
}

func (cmd *assocMerger) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	hitsFilename := flags.String("hits", "", "screened hits CSV `file` with snp_name and protein columns (required)")
	pqtlDir := flags.String("pqtl-dir", "", "base `directory` with per-protein output subdirectories (required)")
	assocName := flags.String("assoc", "summ_all2.assoc.txt.gz", "association `filename` under each protein's output directory")
	outputFilename := flags.String("o", "-", "merged output CSV `file`")
	flags.IntVar(&cmd.threads, "threads", 10, "worker `threads`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *hitsFilename == "" || *pqtlDir == "" {
		err = fmt.Errorf("-hits and -pqtl-dir are required")
		return 2
	}

	header, rows, err := readCSVFile(*hitsFilename)
	if err != nil {
		return 1
	}
	snpIdx, proteinIdx := -1, -1
	for i, name := range header {
		switch name {
		case "snp_name":
			snpIdx = i
		case "protein":
			proteinIdx = i
		}
	}
	if snpIdx < 0 || proteinIdx < 0 {
		err = fmt.Errorf("%s: must contain snp_name and protein columns", *hitsFilename)
		return 1
	}

	byProtein := map[string]*proteinGroup{}
	var groups []*proteinGroup
	for _, row := range rows {
		if len(row) <= snpIdx || len(row) <= proteinIdx {
			continue
		}
		g := byProtein[row[proteinIdx]]
		if g == nil {
			g = &proteinGroup{protein: row[proteinIdx]}
			byProtein[row[proteinIdx]] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, row)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].protein < groups[j].protein })
	log.Infof("found %d unique proteins in %d hit rows", len(groups), len(rows))

	// The association-file header must be consistent across
	// proteins; the first worker to read one records it.
	var assocHeader []string
	var assocHeaderOnce = make(chan []string, 1)
	workers := throttle{Max: cmd.threads}
	for _, g := range groups {
		g := g
		workers.Go(func() error {
			fnm := filepath.Join(*pqtlDir, g.protein, "output", *assocName)
			assoc, hdr, err := loadAssocRecords(fnm)
			if err != nil {
				log.Warnf("%s: %s (rows pass through unmerged)", g.protein, err)
				g.merged = g.rows
				return nil
			}
			select {
			case assocHeaderOnce <- hdr:
			default:
			}
			g.merged = make([][]string, 0, len(g.rows))
			for _, row := range g.rows {
				g.merged = append(g.merged, append(append([]string{}, row...), assoc[row[snpIdx]]...))
			}
			return nil
		})
	}
	if err = workers.Wait(); err != nil {
		return 1
	}
	select {
	case assocHeader = <-assocHeaderOnce:
	default:
	}

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
	bufw := bufio.NewWriter(output)
	w := csv.NewWriter(bufw)
	outHeader := append(append([]string{}, header...), assocHeader...)
	err = w.Write(outHeader)
	if err != nil {
		return 1
	}
	total, matched := 0, 0
	for _, g := range groups {
		// sort by snp_name within protein
		sort.SliceStable(g.merged, func(i, j int) bool { return g.merged[i][snpIdx] < g.merged[j][snpIdx] })
		for _, row := range g.merged {
			if len(row) > len(header) {
				matched++
			}
			// pad rows that found no association record
			for len(row) < len(outHeader) {
				row = append(row, "")
			}
			err = w.Write(row)
			if err != nil {
				return 1
			}
			total++
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return 1
	}
	if err = bufw.Flush(); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	log.Infof("merged %d rows, %d with association data", total, matched)
	return 0
}

// loadAssocRecords reads a gzipped tab-separated association file,
// returning rs → remaining fields plus the header (minus rs).
func loadAssocRecords(fnm string) (map[string][]string, []string, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	var rdr io.Reader = bufio.NewReaderSize(f, 1<<20)
	if strings.HasSuffix(fnm, ".gz") {
		gzr, err := pgzip.NewReader(rdr)
		if err != nil {
			return nil, nil, err
		}
		defer gzr.Close()
		rdr = gzr
	}
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(nil, 1<<20)
	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("%s: empty file", fnm)
	}
	header := strings.Split(scanner.Text(), "\t")
	rsIdx := 1
	for i, name := range header {
		if name == "rs" {
			rsIdx = i
		}
	}
	if rsIdx >= len(header) {
		return nil, nil, fmt.Errorf("%s: header has only %d columns", fnm, len(header))
	}
	outHeader := append(append([]string{}, header[:rsIdx]...), header[rsIdx+1:]...)
	records := make(map[string][]string)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) <= rsIdx {
			continue
		}
		records[fields[rsIdx]] = append(append([]string{}, fields[:rsIdx]...), fields[rsIdx+1:]...)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return records, outHeader, nil
}
