// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

type corrector struct {
	method    correctionMethod
	threshold float64
	threads   int
	chunkRows int
}

func (cmd *corrector) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input table container `file` (\"-\" for stdin)")
	method := flags.String("method", "", "correction `method`: bh or bonferroni")
	flags.Float64Var(&cmd.threshold, "threshold", 0, "significance `threshold` (0 = method default: 0.05 for bh, 0.01 for bonferroni)")
	flags.IntVar(&cmd.threads, "threads", 10, "worker `threads`")
	flags.IntVar(&cmd.chunkRows, "chunk-rows", 0, "`rows` per work chunk (0 = auto, targeting ~512 kB per chunk)")
	outputArchive := flags.String("output-archive", "", "archive container `file` with corrected q-values and provenance (\"\" = skip)")
	outputCSV := flags.String("output-csv", "", "significant-pair CSV `file` (\"\" = skip)")
	outputTable := flags.String("output-table", "", "full corrected table TSV `file` (\"\" = skip)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	// Reject a bad method before reading anything.
	cmd.method, err = parseCorrectionMethod(*method)
	if err != nil {
		return 2
	}
	if cmd.threshold == 0 {
		cmd.threshold = cmd.method.defaultThreshold()
	}

	var input io.ReadCloser
	if *inputFilename == "-" {
		input = io.NopCloser(stdin)
	} else {
		input, err = os.Open(*inputFilename)
		if err != nil {
			return 1
		}
		defer input.Close()
	}
	tab, _, err := ReadSNPTable(input)
	if err != nil {
		return 1
	}
	rows, cols := tab.Dims()
	missing, pct := tab.MissingStats()
	log.Infof("loaded table: %d SNPs × %d tests, missing values: %d (%.2f%%)", rows, cols, missing, pct)

	qvals, err := applyCorrectionParallel(tab.Values, rows, cols, cmd.method, cmd.threads, cmd.chunkRows)
	if err != nil {
		return 1
	}
	qtab := &SNPTable{Chr: tab.Chr, RS: tab.RS, Columns: tab.Columns, Values: qvals}

	if *outputArchive != "" {
		err = cmd.writeArchive(*outputArchive, qtab)
		if err != nil {
			return 1
		}
	}
	if *outputCSV != "" {
		err = cmd.writeSignificant(*outputCSV, qtab)
		if err != nil {
			return 1
		}
	}
	if *outputTable != "" {
		err = cmd.writeCorrectedTable(*outputTable, qtab)
		if err != nil {
			return 1
		}
	}

	log.Infof("finished %s correction: %d SNPs × %d tests, threshold %.3g, %d threads", strings.ToUpper(string(cmd.method)), rows, cols, cmd.threshold, cmd.threads)
	return 0
}

func (cmd *corrector) writeArchive(fnm string, qtab *SNPTable) error {
	log.Infof("writing archive to %s", fnm)
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	meta := newTableMetadata("Row-wise multiple-testing correction for SNPs", string(cmd.method))
	err = WriteSNPTable(f, qtab, meta)
	if err != nil {
		return err
	}
	return f.Close()
}

func (cmd *corrector) writeSignificant(fnm string, qtab *SNPTable) error {
	hits := collectSignificant(qtab, cmd.threshold)
	if len(hits) == 0 {
		log.Info("no significant associations found")
		return nil
	}
	log.Infof("exporting %d associations with q < %.3g to %s", len(hits), cmd.threshold, fnm)
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	err = writeSignificantCSV(f, qtab, hits)
	if err != nil {
		return err
	}
	return f.Close()
}

func (cmd *corrector) writeCorrectedTable(fnm string, qtab *SNPTable) error {
	log.Infof("writing corrected table to %s", fnm)
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	err = writeCorrectedTSV(f, qtab)
	if err != nil {
		return err
	}
	return f.Close()
}
