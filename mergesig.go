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

	log "github.com/sirupsen/logrus"
)

// sigMerger concatenates per-protein significant-association TSVs
// (<dir>/<protein>/output/<name>) into one CSV, prepending the
// protein name inferred from the directory layout.
type sigMerger struct {
	columnName string
}

func (cmd *sigMerger) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	baseDir := flags.String("dir", "", "base `directory` with per-protein subdirectories (required)")
	name := flags.String("name", "sig_summ_all2.assoc.tsv", "significant-association `filename` under each protein's output directory")
	flags.StringVar(&cmd.columnName, "column-name", "protein_name", "`name` of the prepended protein column")
	outputFilename := flags.String("o", "-", "merged output CSV `file`")
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

	files, err := filepath.Glob(filepath.Join(*baseDir, "*", "output", *name))
	if err != nil {
		return 1
	}
	sort.Strings(files)
	if len(files) == 0 {
		err = fmt.Errorf("no %s files found under %s", *name, *baseDir)
		return 1
	}
	log.Infof("found %d files, merging", len(files))

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

	var header []string
	total := 0
	for _, fnm := range files {
		protein := filepath.Base(filepath.Dir(filepath.Dir(fnm)))
		fileHeader, rows, err2 := readTSVFile(fnm)
		if err2 != nil {
			err = err2
			return 1
		}
		if header == nil {
			header = fileHeader
			err = w.Write(append([]string{cmd.columnName}, header...))
			if err != nil {
				return 1
			}
		} else if strings.Join(fileHeader, "\t") != strings.Join(header, "\t") {
			err = fmt.Errorf("%s: column names differ from %s", fnm, files[0])
			return 1
		}
		for _, row := range rows {
			err = w.Write(append([]string{protein}, row...))
			if err != nil {
				return 1
			}
		}
		total += len(rows)
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
	log.Infof("merged %d rows from %d proteins", total, len(files))
	return 0
}

func readTSVFile(fnm string) (header []string, rows [][]string, err error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	rdr := csv.NewReader(bufio.NewReader(f))
	rdr.Comma = '\t'
	rdr.FieldsPerRecord = -1
	all, err := rdr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %s", fnm, err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%s: empty file", fnm)
	}
	return all[0], all[1:], nil
}
