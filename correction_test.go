// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"math"
	"math/rand"

	"gopkg.in/check.v1"
)

type correctionSuite struct{}

var _ = check.Suite(&correctionSuite{})

func checkNear(c *check.C, got, want float32, comment check.CommentInterface) {
	c.Check(math.Abs(float64(got)-float64(want)) < 1e-6, check.Equals, true,
		check.Commentf("got %v, want %v (%v)", got, want, comment))
}

func correctRows(c *check.C, method correctionMethod, in []float32, cols int) []float32 {
	out := make([]float32, len(in))
	err := correctChunk(method, in, out, cols)
	c.Assert(err, check.IsNil)
	return out
}

func (s *correctionSuite) TestBHSingleRow(c *check.C) {
	got := correctRows(c, methodBH, []float32{0.01, 0.02, 0.03, 0.20}, 4)
	for i, want := range []float32{0.04, 0.04, 0.04, 0.20} {
		checkNear(c, got[i], want, check.Commentf("column %d", i))
	}
}

func (s *correctionSuite) TestBonferroniSingleRow(c *check.C) {
	got := correctRows(c, methodBonferroni, []float32{0.01, 0.02, 0.03, 0.20}, 4)
	for i, want := range []float32{0.04, 0.08, 0.12, 0.80} {
		checkNear(c, got[i], want, check.Commentf("column %d", i))
	}
}

func (s *correctionSuite) TestBHMissingValues(c *check.C) {
	got := correctRows(c, methodBH, []float32{0.5, nan32, 0.1}, 3)
	// cnt=2: 0.1 ranks first (0.1*2/1 = 0.2), 0.5 ranks second
	// (0.5*2/2 = 0.5); the missing position stays missing.
	checkNear(c, got[0], 0.5, check.Commentf("column 0"))
	c.Check(isNaN32(got[1]), check.Equals, true)
	checkNear(c, got[2], 0.2, check.Commentf("column 2"))
}

func (s *correctionSuite) TestBonferroniMissingValues(c *check.C) {
	got := correctRows(c, methodBonferroni, []float32{0.5, nan32, 0.1}, 3)
	checkNear(c, got[0], 1, check.Commentf("0.5 × 2 clipped"))
	c.Check(isNaN32(got[1]), check.Equals, true)
	checkNear(c, got[2], 0.2, check.Commentf("0.1 × 2"))
}

func (s *correctionSuite) TestAllMissingRow(c *check.C) {
	for _, method := range []correctionMethod{methodBH, methodBonferroni} {
		got := correctRows(c, method, []float32{nan32, nan32, nan32}, 3)
		for i := range got {
			c.Check(isNaN32(got[i]), check.Equals, true, check.Commentf("%s column %d", method, i))
		}
	}
}

func (s *correctionSuite) TestBHTiedValues(c *check.C) {
	got := correctRows(c, methodBH, []float32{0.02, 0.01, 0.02, 0.01}, 4)
	// equal inputs must receive equal adjusted values
	c.Check(got[0], check.Equals, got[2])
	c.Check(got[1], check.Equals, got[3])
	for i := range got {
		checkNear(c, got[i], 0.02, check.Commentf("column %d", i))
	}
}

func (s *correctionSuite) TestBHMonotonic(c *check.C) {
	row := []float32{0.9, 0.001, 0.5, 0.01, 0.2, 0.05, 0.3}
	got := correctRows(c, methodBH, row, len(row))
	for i := range row {
		for j := range row {
			if row[i] < row[j] {
				c.Check(got[i] <= got[j], check.Equals, true,
					check.Commentf("q(%v)=%v > q(%v)=%v", row[i], got[i], row[j], got[j]))
			}
		}
	}
}

func (s *correctionSuite) TestBonferroniClip(c *check.C) {
	got := correctRows(c, methodBonferroni, []float32{0.5, 0.5, 0.5, 0.5}, 4)
	for i := range got {
		c.Check(got[i], check.Equals, float32(1))
	}
}

func randomMatrix(rows, cols int, missingEvery int) []float32 {
	rnd := rand.New(rand.NewSource(1))
	vals := make([]float32, rows*cols)
	for i := range vals {
		if missingEvery > 0 && i%missingEvery == 0 {
			vals[i] = nan32
		} else {
			vals[i] = rnd.Float32()
		}
	}
	return vals
}

func (s *correctionSuite) TestChunkInvariance(c *check.C) {
	rows, cols := 37, 5
	p := randomMatrix(rows, cols, 7)
	for _, method := range []correctionMethod{methodBH, methodBonferroni} {
		whole := make([]float32, len(p))
		err := correctChunk(method, p, whole, cols)
		c.Assert(err, check.IsNil)
		for _, chunkRows := range []int{0, 1, 3, 10, 37, 1000} {
			got, err := applyCorrectionParallel(p, rows, cols, method, 4, chunkRows)
			c.Assert(err, check.IsNil)
			c.Assert(got, check.HasLen, len(whole))
			for i := range whole {
				if isNaN32(whole[i]) {
					c.Check(isNaN32(got[i]), check.Equals, true, check.Commentf("%s chunkRows=%d i=%d", method, chunkRows, i))
				} else {
					c.Check(got[i], check.Equals, whole[i], check.Commentf("%s chunkRows=%d i=%d", method, chunkRows, i))
				}
			}
		}
	}
}

func (s *correctionSuite) TestShapeAndBounds(c *check.C) {
	rows, cols := 21, 8
	p := randomMatrix(rows, cols, 5)
	for _, method := range []correctionMethod{methodBH, methodBonferroni} {
		q, err := applyCorrectionParallel(p, rows, cols, method, 3, 0)
		c.Assert(err, check.IsNil)
		c.Assert(q, check.HasLen, rows*cols)
		for i := range p {
			if isNaN32(p[i]) {
				c.Check(isNaN32(q[i]), check.Equals, true, check.Commentf("%s i=%d", method, i))
			} else {
				c.Check(q[i] >= 0 && q[i] <= 1, check.Equals, true, check.Commentf("%s i=%d q=%v", method, i, q[i]))
			}
		}
	}
}

func (s *correctionSuite) TestRowIndependence(c *check.C) {
	rows, cols := 10, 6
	p := randomMatrix(rows, cols, 9)
	q, err := applyCorrectionParallel(p, rows, cols, methodBH, 2, 4)
	c.Assert(err, check.IsNil)
	// reverse all rows; outputs must follow
	prev := make([]float32, len(p))
	for i := 0; i < rows; i++ {
		copy(prev[(rows-1-i)*cols:(rows-i)*cols], p[i*cols:(i+1)*cols])
	}
	qrev, err := applyCorrectionParallel(prev, rows, cols, methodBH, 2, 4)
	c.Assert(err, check.IsNil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			a, b := q[i*cols+j], qrev[(rows-1-i)*cols+j]
			if isNaN32(a) {
				c.Check(isNaN32(b), check.Equals, true)
			} else {
				c.Check(a, check.Equals, b, check.Commentf("row %d col %d", i, j))
			}
		}
	}
}

func (s *correctionSuite) TestUnknownMethod(c *check.C) {
	_, err := applyCorrectionParallel([]float32{0.5}, 1, 1, correctionMethod("holm"), 1, 0)
	c.Check(err, check.ErrorMatches, `unknown correction method "holm".*`)
	_, err = parseCorrectionMethod("")
	c.Check(err, check.NotNil)
}

func (s *correctionSuite) TestEmptyMatrix(c *check.C) {
	q, err := applyCorrectionParallel(nil, 0, 0, methodBH, 4, 0)
	c.Check(err, check.IsNil)
	c.Check(q, check.HasLen, 0)
}

func (s *correctionSuite) TestDefaultThresholds(c *check.C) {
	c.Check(methodBH.defaultThreshold(), check.Equals, 0.05)
	c.Check(methodBonferroni.defaultThreshold(), check.Equals, 0.01)
}
