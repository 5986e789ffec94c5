// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/check.v1"
)

type exportSuite struct{}

var _ = check.Suite(&exportSuite{})

func (s *exportSuite) TestCollectSignificantOrder(c *check.C) {
	t := &SNPTable{
		Chr:     []int32{1, 2, 3},
		RS:      []string{"rs1", "rs2", "rs3"},
		Columns: []string{"P1", "P2"},
		Values: []float32{
			0.04, 0.9,
			nan32, 0.001,
			0.02, 0.05,
		},
	}
	hits := collectSignificant(t, 0.05)
	c.Assert(hits, check.HasLen, 3)
	// ascending by q; the exact-threshold 0.05 entry is excluded
	c.Check(hits[0], check.Equals, sigHit{row: 1, col: 1, q: 0.001})
	c.Check(hits[1], check.Equals, sigHit{row: 2, col: 0, q: 0.02})
	c.Check(hits[2], check.Equals, sigHit{row: 0, col: 0, q: 0.04})
}

func (s *exportSuite) TestSignificantCSV(c *check.C) {
	t := &SNPTable{
		Chr:     []int32{1, 2},
		RS:      []string{"rs101", "rs102"},
		Columns: []string{"APOE", "IL6"},
		Values:  []float32{0.5, 0.01, 0.002, 0.8},
	}
	var buf bytes.Buffer
	err := writeSignificantCSV(&buf, t, collectSignificant(t, 0.05))
	c.Assert(err, check.IsNil)
	c.Check(buf.String(), check.Equals, ""+
		"snp_name,pvalue_column,q_value\n"+
		"rs102,APOE,0.002\n"+
		"rs101,IL6,0.01\n")
}

func (s *exportSuite) TestCorrectedTSV(c *check.C) {
	t := &SNPTable{
		Chr:     []int32{5},
		RS:      []string{"rs7"},
		Columns: []string{"P1", "P2", "P3"},
		Values:  []float32{0.25, nan32, 1},
	}
	var buf bytes.Buffer
	err := writeCorrectedTSV(&buf, t)
	c.Assert(err, check.IsNil)
	c.Check(buf.String(), check.Equals, ""+
		"chr\trs\tP1\tP2\tP3\n"+
		"5\trs7\t0.25\tNA\t1\n")
}

func (s *exportSuite) TestCorrectCommand(c *check.C) {
	tmpdir := c.MkDir()
	in := filepath.Join(tmpdir, "pvalues.gob.gz")
	f, err := os.Create(in)
	c.Assert(err, check.IsNil)
	err = WriteSNPTable(f, &SNPTable{
		Chr:     []int32{1, 1, 2},
		RS:      []string{"rs1", "rs2", "rs3"},
		Columns: []string{"PROT1", "PROT2"},
		Values: []float32{
			0.001, 0.8,
			nan32, 0.004,
			0.9, 0.7,
		},
	}, newTableMetadata("raw p-values", ""))
	c.Assert(err, check.IsNil)
	c.Assert(f.Close(), check.IsNil)

	archive := filepath.Join(tmpdir, "corrected.gob.gz")
	csvout := filepath.Join(tmpdir, "significant.csv")
	tsvout := filepath.Join(tmpdir, "corrected.tsv")
	var stdout, stderr bytes.Buffer
	exited := (&corrector{}).RunCommand("correct", []string{
		"-i", in,
		"-method", "bh",
		"-output-archive", archive,
		"-output-csv", csvout,
		"-output-table", tsvout,
	}, nil, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))

	// archive carries the corrected matrix and provenance
	af, err := os.Open(archive)
	c.Assert(err, check.IsNil)
	defer af.Close()
	qtab, meta, err := ReadSNPTable(af)
	c.Assert(err, check.IsNil)
	c.Assert(meta, check.NotNil)
	c.Check(meta.Method, check.Equals, "bh")
	c.Check(qtab.Columns, check.DeepEquals, []string{"PROT1", "PROT2"})
	checkNear(c, qtab.Values[0], 0.002, check.Commentf("rs1 PROT1")) // 0.001*2/1
	c.Check(isNaN32(qtab.Values[2]), check.Equals, true)
	checkNear(c, qtab.Values[3], 0.004, check.Commentf("rs2 PROT2")) // sole test in row

	sig, err := ioutil.ReadFile(csvout)
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimRight(string(sig), "\n"), "\n")
	c.Assert(lines, check.HasLen, 3)
	c.Check(lines[0], check.Equals, "snp_name,pvalue_column,q_value")
	c.Check(lines[1], check.Matches, `rs1,PROT1,.*`)
	c.Check(lines[2], check.Matches, `rs2,PROT2,.*`)

	tsv, err := ioutil.ReadFile(tsvout)
	c.Assert(err, check.IsNil)
	c.Check(strings.HasPrefix(string(tsv), "chr\trs\tPROT1\tPROT2\n"), check.Equals, true)
	c.Check(strings.Contains(string(tsv), "\tNA"), check.Equals, true)
}

func (s *exportSuite) TestCorrectCommandNoHits(c *check.C) {
	tmpdir := c.MkDir()
	in := filepath.Join(tmpdir, "pvalues.gob.gz")
	f, err := os.Create(in)
	c.Assert(err, check.IsNil)
	err = WriteSNPTable(f, &SNPTable{
		Chr:     []int32{1},
		RS:      []string{"rs1"},
		Columns: []string{"PROT1"},
		Values:  []float32{0.9},
	}, nil)
	c.Assert(err, check.IsNil)
	c.Assert(f.Close(), check.IsNil)

	csvout := filepath.Join(tmpdir, "significant.csv")
	var stderr bytes.Buffer
	exited := (&corrector{}).RunCommand("correct", []string{
		"-i", in, "-method", "bonferroni", "-output-csv", csvout,
	}, nil, ioutil.Discard, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	// no hits, no file
	_, err = os.Stat(csvout)
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *exportSuite) TestCorrectCommandBadMethod(c *check.C) {
	var stderr bytes.Buffer
	exited := (&corrector{}).RunCommand("correct", []string{
		"-i", "/nonexistent", "-method", "fdr",
	}, nil, ioutil.Discard, &stderr)
	c.Check(exited, check.Equals, 2)
	c.Check(stderr.String(), check.Matches, `(?s).*unknown correction method.*`)
}
