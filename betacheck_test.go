// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/check.v1"
)

type betaCheckSuite struct{}

var _ = check.Suite(&betaCheckSuite{})

func (s *betaCheckSuite) TestVariantKey(c *check.C) {
	key, ok := parseVariantKey("7", "123456", "a", "g")
	c.Assert(ok, check.Equals, true)
	c.Check(key, check.Equals, variantKey{chrom: 7, pos: 123456, allele0: "A", allele1: "G"})
	_, ok = parseVariantKey("chrX", "1", "A", "G")
	c.Check(ok, check.Equals, false)
}

func (s *betaCheckSuite) TestBetaSlopePvalue(c *check.C) {
	// strong linear relationship: tiny p
	x := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	y := []float64{0.21, 0.39, 0.62, 0.78, 1.03, 1.19, 1.42, 1.58}
	p := betaSlopePvalue(x, y)
	c.Check(math.IsNaN(p), check.Equals, false)
	c.Check(p < 0.001, check.Equals, true, check.Commentf("p=%v", p))

	// pure noise: no evidence for a slope
	xn := []float64{0.1, 0.9, 0.2, 0.8, 0.3, 0.7, 0.4, 0.6}
	yn := []float64{0.5, 0.5, 0.6, 0.6, 0.4, 0.4, 0.5, 0.5}
	pn := betaSlopePvalue(xn, yn)
	c.Check(math.IsNaN(pn), check.Equals, false)
	c.Check(pn > 0.05, check.Equals, true, check.Commentf("p=%v", pn))
}

func (s *betaCheckSuite) TestBetaCheckCommand(c *check.C) {
	tmpdir := c.MkDir()
	discoveryDir := filepath.Join(tmpdir, "discovery")

	var discovery strings.Builder
	discovery.WriteString("CHROM GENPOS ID ALLELE0 ALLELE1 A1FREQ INFO N TEST BETA\n")
	var reference strings.Builder
	reference.WriteString("chr\trs\tps\tallele0\tallele1\tbeta\tp_wald\n")
	noise := []float64{0.01, -0.02, 0.015, -0.01, 0.02, -0.015, 0.005, -0.005}
	for i := 0; i < 8; i++ {
		beta := 0.1 * float64(i+1)
		fmt.Fprintf(&discovery, "1 %d rs%d A G 0.3 0.99 5000 ADD %g\n", 1000+i, i, beta)
		fmt.Fprintf(&reference, "1\trs%d\t%d\tA\tG\t%g\t1e-8\n", i, 1000+i, 2*beta+noise[i])
	}
	// reference-only row, filtered out by p_wald
	reference.WriteString("1\trs99\t9999\tA\tG\t0.5\t0.9\n")

	c.Assert(ioutil.WriteFile(filepath.Join(tmpdir, "ref.assoc.txt"), []byte(reference.String()), 0666), check.IsNil)
	touchDir := filepath.Join(discoveryDir, "ignored.txt") // has extension, skipped
	touch(c, touchDir)
	c.Assert(ioutil.WriteFile(filepath.Join(discoveryDir, "chunk1"), []byte(discovery.String()), 0666), check.IsNil)

	var stdout, stderr bytes.Buffer
	exited := (&betaCheck{}).RunCommand("beta-check", []string{
		"-discovery-dir", discoveryDir,
		"-assoc", filepath.Join(tmpdir, "ref.assoc.txt"),
	}, nil, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))

	fields := map[string]string{}
	for _, line := range strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n") {
		kv := strings.SplitN(line, "\t", 2)
		c.Assert(kv, check.HasLen, 2)
		fields[kv[0]] = kv[1]
	}
	c.Check(fields["n"], check.Equals, "8")
	r, err := strconv.ParseFloat(fields["r"], 64)
	c.Assert(err, check.IsNil)
	c.Check(r > 0.99, check.Equals, true, check.Commentf("r=%v", r))
	p, err := strconv.ParseFloat(fields["p"], 64)
	c.Assert(err, check.IsNil)
	c.Check(p < 0.001, check.Equals, true, check.Commentf("p=%v", p))
}

func (s *betaCheckSuite) TestBetaCheckTooFewOverlaps(c *check.C) {
	tmpdir := c.MkDir()
	discoveryDir := filepath.Join(tmpdir, "discovery")
	c.Assert(ioutil.WriteFile(filepath.Join(tmpdir, "ref.assoc.txt"), []byte(""+
		"chr\trs\tps\tallele0\tallele1\tbeta\tp_wald\n"+
		"1\trs1\t1000\tA\tG\t0.5\t1e-8\n"), 0666), check.IsNil)
	touch(c, filepath.Join(discoveryDir, "chunk1"))
	c.Assert(ioutil.WriteFile(filepath.Join(discoveryDir, "chunk1"), []byte(""+
		"CHROM GENPOS ID ALLELE0 ALLELE1 A1FREQ INFO N TEST BETA\n"+
		"1 1000 rs1 A G 0.3 0.99 5000 ADD 0.25\n"), 0666), check.IsNil)
	var stderr bytes.Buffer
	exited := (&betaCheck{}).RunCommand("beta-check", []string{
		"-discovery-dir", discoveryDir,
		"-assoc", filepath.Join(tmpdir, "ref.assoc.txt"),
	}, nil, ioutil.Discard, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*only 1 overlapping variants, need at least 3.*`)
}
