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

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// exportNumpy converts a table container to a .npy float32 matrix,
// with optional sidecar CSVs for the row identifiers and column names
// so downstream numpy consumers can reattach them.
type exportNumpy struct{}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input table container `file`")
	outputFilename := flags.String("o", "-", "output .npy `file`")
	rowsFilename := flags.String("output-rows", "", "row identifier CSV `file` (chr,rs; \"\" = skip)")
	columnsFilename := flags.String("output-columns", "", "column name CSV `file` (\"\" = skip)")
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
	log.Infof("exporting %d × %d matrix", rows, cols)

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
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat32(tab.Values)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}

	if *rowsFilename != "" {
		err = writeRowAnnotations(*rowsFilename, tab)
		if err != nil {
			return 1
		}
	}
	if *columnsFilename != "" {
		err = writeColumnAnnotations(*columnsFilename, tab)
		if err != nil {
			return 1
		}
	}
	return 0
}

func writeRowAnnotations(fnm string, t *SNPTable) error {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	_, err = fmt.Fprintln(bufw, "chr,rs")
	if err != nil {
		return err
	}
	for i := range t.Chr {
		_, err = fmt.Fprintf(bufw, "%d,%s\n", t.Chr[i], t.RS[i])
		if err != nil {
			return err
		}
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

func writeColumnAnnotations(fnm string, t *SNPTable) error {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	for _, name := range t.Columns {
		_, err = fmt.Fprintln(bufw, name)
		if err != nil {
			return err
		}
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
