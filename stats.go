// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// tableStats summarizes a table container: dimensions, missing-value
// count and provenance, as JSON.
type tableStats struct{}

func (cmd *tableStats) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input table container `file`")
	outputFilename := flags.String("o", "-", "output JSON `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
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
	err = cmd.doStats(input, bufw)
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
	return 0
}

func (cmd *tableStats) doStats(input io.Reader, output io.Writer) error {
	var ret struct {
		Rows           int
		Columns        int
		Missing        int
		MissingPercent float64
		Metadata       *TableMetadata `json:",omitempty"`
	}
	tab, meta, err := ReadSNPTable(input)
	if err != nil {
		return err
	}
	ret.Rows, ret.Columns = tab.Dims()
	ret.Missing, ret.MissingPercent = tab.MissingStats()
	ret.Metadata = meta
	log.Infof("%d × %d table, %d missing (%.2f%%)", ret.Rows, ret.Columns, ret.Missing, ret.MissingPercent)
	j, err := json.MarshalIndent(ret, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(output, string(j))
	return err
}
