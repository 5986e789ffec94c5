// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
)

type sigHit struct {
	row int
	col int
	q   float32
}

// collectSignificant returns every (row, column) entry strictly below
// threshold, sorted ascending by q-value. NaN entries never compare
// below the threshold, so missing values are skipped implicitly.
func collectSignificant(t *SNPTable, threshold float64) []sigHit {
	rows, cols := t.Dims()
	var hits []sigHit
	for i := 0; i < rows; i++ {
		row := t.Row(i)
		for j := 0; j < cols; j++ {
			if float64(row[j]) < threshold {
				hits = append(hits, sigHit{row: i, col: j, q: row[j]})
			}
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].q != hits[b].q {
			return hits[a].q < hits[b].q
		}
		if hits[a].row != hits[b].row {
			return hits[a].row < hits[b].row
		}
		return hits[a].col < hits[b].col
	})
	return hits
}

func writeSignificantCSV(w io.Writer, t *SNPTable, hits []sigHit) error {
	bufw := bufio.NewWriter(w)
	_, err := fmt.Fprintln(bufw, "snp_name,pvalue_column,q_value")
	if err != nil {
		return err
	}
	for _, h := range hits {
		_, err = fmt.Fprintf(bufw, "%s,%s,%v\n", t.RS[h.row], t.Columns[h.col], h.q)
		if err != nil {
			return err
		}
	}
	return bufw.Flush()
}

// writeCorrectedTSV writes the full corrected table: chr and rs first,
// then every test column in original order. Missing values are
// written as "NA".
func writeCorrectedTSV(w io.Writer, t *SNPTable) error {
	rows, cols := t.Dims()
	bufw := bufio.NewWriter(w)
	_, err := fmt.Fprint(bufw, "chr\trs")
	if err != nil {
		return err
	}
	for _, name := range t.Columns {
		_, err = fmt.Fprintf(bufw, "\t%s", name)
		if err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(bufw)
	if err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		_, err = fmt.Fprintf(bufw, "%d\t%s", t.Chr[i], t.RS[i])
		if err != nil {
			return err
		}
		row := t.Row(i)
		for j := 0; j < cols; j++ {
			if isNaN32(row[j]) {
				_, err = bufw.WriteString("\tNA")
			} else {
				_, err = bufw.WriteString("\t" + strconv.FormatFloat(float64(row[j]), 'g', -1, 32))
			}
			if err != nil {
				return err
			}
		}
		err = bufw.WriteByte('\n')
		if err != nil {
			return err
		}
	}
	return bufw.Flush()
}
