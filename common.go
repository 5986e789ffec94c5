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
	"strings"

	log "github.com/sirupsen/logrus"
)

// commoncmd filters two CSV files down to the rows whose first-column
// value appears in both, writing the filtered copies side by side.
type commoncmd struct{}

func (cmd *commoncmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	traitFilename := flags.String("trait", "", "trait CSV `file` (required)")
	proteinFilename := flags.String("protein", "", "protein CSV `file` (required)")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *traitFilename == "" || *proteinFilename == "" {
		err = fmt.Errorf("-trait and -protein are required")
		return 2
	}

	traitHeader, traitRows, err := readCSVFile(*traitFilename)
	if err != nil {
		return 1
	}
	proteinHeader, proteinRows, err := readCSVFile(*proteinFilename)
	if err != nil {
		return 1
	}

	traitValues := make(map[string]bool, len(traitRows))
	for _, row := range traitRows {
		traitValues[row[0]] = true
	}
	common := make(map[string]bool)
	for _, row := range proteinRows {
		if traitValues[row[0]] {
			common[row[0]] = true
		}
	}
	log.Infof("found %d common entries in column %q", len(common), traitHeader[0])

	traitBase := strings.TrimSuffix(filepath.Base(*traitFilename), filepath.Ext(*traitFilename))
	proteinBase := strings.TrimSuffix(filepath.Base(*proteinFilename), filepath.Ext(*proteinFilename))
	traitOut := filepath.Join(*outputDir, traitBase+"_"+proteinBase+"_trait.csv")
	proteinOut := filepath.Join(*outputDir, proteinBase+"_"+traitBase+"_protein.csv")

	n, err := writeFilteredCSV(traitOut, traitHeader, traitRows, common)
	if err != nil {
		return 1
	}
	log.Infof("trait common file: %s (%d rows)", traitOut, n)
	n, err = writeFilteredCSV(proteinOut, proteinHeader, proteinRows, common)
	if err != nil {
		return 1
	}
	log.Infof("protein common file: %s (%d rows)", proteinOut, n)
	return 0
}

func readCSVFile(fnm string) (header []string, rows [][]string, err error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	rdr := csv.NewReader(f)
	rdr.FieldsPerRecord = -1
	all, err := rdr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %s", fnm, err)
	}
	if len(all) == 0 || len(all[0]) == 0 {
		return nil, nil, fmt.Errorf("%s: empty file", fnm)
	}
	return all[0], all[1:], nil
}

func writeFilteredCSV(fnm string, header []string, rows [][]string, keep map[string]bool) (int, error) {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	err = w.Write(header)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		if len(row) > 0 && keep[row[0]] {
			err = w.Write(row)
			if err != nil {
				return 0, err
			}
			n++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return n, f.Close()
}
