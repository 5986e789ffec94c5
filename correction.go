// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

type correctionMethod string

const (
	methodBH         = correctionMethod("bh")
	methodBonferroni = correctionMethod("bonferroni")
)

func parseCorrectionMethod(s string) (correctionMethod, error) {
	switch m := correctionMethod(s); m {
	case methodBH, methodBonferroni:
		return m, nil
	default:
		return "", fmt.Errorf("unknown correction method %q (want bh or bonferroni)", s)
	}
}

// defaultThreshold is the significance cutoff used when the caller
// does not supply one.
func (m correctionMethod) defaultThreshold() float64 {
	if m == methodBH {
		return 0.05
	}
	return 0.01
}

// target uncompressed footprint of one work chunk, assuming float32
// entries. A 3000-column matrix gets ~42 rows per chunk.
const defaultChunkBytes = 512000

// bhRow writes Benjamini-Hochberg adjusted values for one row into
// out. Missing (NaN) entries do not consume a rank or count toward
// the number of tests, and stay missing in out. idx is scratch space
// with cap ≥ len(row).
func bhRow(row, out []float32, idx []int) {
	idx = idx[:0]
	for i, v := range row {
		out[i] = nan32
		if !isNaN32(v) {
			idx = append(idx, i)
		}
	}
	cnt := len(idx)
	if cnt == 0 {
		return
	}
	// Stable sort keeps original column order among tied p-values,
	// so tied inputs always get identical adjusted values.
	sort.SliceStable(idx, func(a, b int) bool { return row[idx[a]] < row[idx[b]] })
	// Walk ranks from largest to smallest taking the running
	// minimum, so the adjusted sequence is non-decreasing in
	// original p-value order.
	min := float32(2)
	for k := cnt; k >= 1; k-- {
		v := row[idx[k-1]] * float32(cnt) / float32(k)
		if v < min {
			min = v
		}
		q := min
		if q > 1 {
			q = 1
		} else if q < 0 {
			q = 0
		}
		out[idx[k-1]] = q
	}
}

// bonferroniRow multiplies each non-missing entry by the row's
// non-missing count, clipped to [0,1].
func bonferroniRow(row, out []float32) {
	cnt := 0
	for _, v := range row {
		if !isNaN32(v) {
			cnt++
		}
	}
	for i, v := range row {
		if isNaN32(v) {
			out[i] = nan32
			continue
		}
		q := v * float32(cnt)
		if q > 1 {
			q = 1
		} else if q < 0 {
			q = 0
		}
		out[i] = q
	}
}

// correctChunk runs the kernel for one row-block. in and out are
// row-major with width cols and must be the same length.
func correctChunk(method correctionMethod, in, out []float32, cols int) error {
	if len(in) != len(out) || cols <= 0 || len(in)%cols != 0 {
		return fmt.Errorf("misshapen chunk: len(in)=%d len(out)=%d cols=%d", len(in), len(out), cols)
	}
	idx := make([]int, 0, cols)
	for lo := 0; lo < len(in); lo += cols {
		row := in[lo : lo+cols]
		qrow := out[lo : lo+cols]
		switch method {
		case methodBH:
			bhRow(row, qrow, idx)
		case methodBonferroni:
			bonferroniRow(row, qrow)
		default:
			return fmt.Errorf("unknown correction method %q", method)
		}
	}
	return nil
}

// applyCorrectionParallel corrects an M×N row-major matrix with a
// bounded worker pool. Workers own disjoint row ranges of the output
// buffer, so no locking is needed; the first kernel error aborts the
// batch.
func applyCorrectionParallel(p []float32, rows, cols int, method correctionMethod, threads, chunkRows int) ([]float32, error) {
	if _, err := parseCorrectionMethod(string(method)); err != nil {
		return nil, err
	}
	if len(p) != rows*cols {
		return nil, fmt.Errorf("matrix has %d values, expected %d×%d", len(p), rows, cols)
	}
	q := make([]float32, len(p))
	if rows == 0 || cols == 0 {
		return q, nil
	}
	if chunkRows <= 0 {
		chunkRows = defaultChunkBytes / (cols * 4)
		if chunkRows < 1 {
			chunkRows = 1
		}
	}
	if chunkRows > rows {
		chunkRows = rows
	}
	if threads < 1 {
		threads = 1
	}
	nChunks := (rows + chunkRows - 1) / chunkRows
	log.Infof("parallel %s correction: %d × %d matrix → %d chunks × %d rows on %d threads", method, rows, cols, nChunks, chunkRows, threads)

	workers := throttle{Max: threads}
	for lo := 0; lo < rows; lo += chunkRows {
		lo := lo
		hi := lo + chunkRows
		if hi > rows {
			hi = rows
		}
		workers.Go(func() error {
			return correctChunk(method, p[lo*cols:hi*cols], q[lo*cols:hi*cols], cols)
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}
	return q, nil
}
