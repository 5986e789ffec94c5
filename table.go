// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/klauspost/pgzip"
)

// SNPTable is an M×N p-value (or q-value, or PIP) matrix plus the two
// identifier columns that travel with it. Values is row-major;
// missing entries are NaN.
type SNPTable struct {
	Chr     []int32
	RS      []string
	Columns []string
	Values  []float32
}

func (t *SNPTable) Dims() (rows, cols int) {
	return len(t.Chr), len(t.Columns)
}

func (t *SNPTable) Row(i int) []float32 {
	n := len(t.Columns)
	return t.Values[i*n : (i+1)*n]
}

// MissingStats returns the count and percentage of NaN entries.
func (t *SNPTable) MissingStats() (missing int, percent float64) {
	for _, v := range t.Values {
		if isNaN32(v) {
			missing++
		}
	}
	if len(t.Values) > 0 {
		percent = 100 * float64(missing) / float64(len(t.Values))
	}
	return
}

// TableMetadata is provenance carried in the first entry of a table
// container.
type TableMetadata struct {
	Description string
	Method      string
	CreatedBy   string
	CreatedAt   string
}

// tableEntry is one gob-encoded element of a table container stream.
// The first entry carries Metadata and Columns; it and all subsequent
// entries may carry a chunk of rows.
type tableEntry struct {
	Metadata *TableMetadata
	Columns  []string
	Chr      []int32
	RS       []string
	Values   []float32
}

// rows per container entry; large matrices are split across entries
// so readers never need one huge gob allocation.
const tableChunkRows = 1000

func newTableMetadata(description, method string) *TableMetadata {
	return &TableMetadata{
		Description: description,
		Method:      method,
		CreatedBy:   "pqtl SNP pipeline",
		CreatedAt:   time.Now().Format(time.RFC3339),
	}
}

// WriteSNPTable writes t as a pgzip-compressed stream of gob entries.
func WriteSNPTable(w io.Writer, t *SNPTable, meta *TableMetadata) error {
	rows, cols := t.Dims()
	if len(t.RS) != rows {
		return fmt.Errorf("table has %d chr entries but %d rs entries", rows, len(t.RS))
	}
	if len(t.Values) != rows*cols {
		return fmt.Errorf("table has %d values, expected %d×%d", len(t.Values), rows, cols)
	}
	bufw := bufio.NewWriter(w)
	gzw := pgzip.NewWriter(bufw)
	enc := gob.NewEncoder(gzw)
	err := enc.Encode(tableEntry{Metadata: meta, Columns: t.Columns})
	if err != nil {
		return err
	}
	for lo := 0; lo < rows; lo += tableChunkRows {
		hi := lo + tableChunkRows
		if hi > rows {
			hi = rows
		}
		err = enc.Encode(tableEntry{
			Chr:    t.Chr[lo:hi],
			RS:     t.RS[lo:hi],
			Values: t.Values[lo*cols : hi*cols],
		})
		if err != nil {
			return err
		}
	}
	err = gzw.Close()
	if err != nil {
		return err
	}
	return bufw.Flush()
}

// DecodeSNPTable reads a table container stream, calling cb for each
// entry as it is decoded.
func DecodeSNPTable(rdr io.Reader, gz bool, cb func(*tableEntry) error) error {
	if gz {
		gzr, err := pgzip.NewReader(bufio.NewReaderSize(rdr, 1<<22))
		if err != nil {
			return err
		}
		defer gzr.Close()
		rdr = gzr
	}
	dec := gob.NewDecoder(bufio.NewReader(rdr))
	for {
		var ent tableEntry
		err := dec.Decode(&ent)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		err = cb(&ent)
		if err != nil {
			return err
		}
	}
}

// ReadSNPTable decodes a whole table container, checking that the
// identifier columns are present and consistent with the matrix.
// Containers are always pgzip-compressed.
func ReadSNPTable(rdr io.Reader) (*SNPTable, *TableMetadata, error) {
	var t SNPTable
	var meta *TableMetadata
	first := true
	err := DecodeSNPTable(rdr, true, func(ent *tableEntry) error {
		if first {
			first = false
			if ent.Columns == nil {
				return fmt.Errorf("not a table container: first entry has no column list")
			}
			t.Columns = ent.Columns
			meta = ent.Metadata
		} else if ent.Columns != nil {
			return fmt.Errorf("unexpected column list in continuation entry")
		}
		if len(ent.Chr) != len(ent.RS) {
			return fmt.Errorf("entry has %d chr identifiers but %d rs identifiers", len(ent.Chr), len(ent.RS))
		}
		if len(ent.Values) != len(ent.Chr)*len(t.Columns) {
			return fmt.Errorf("entry has %d values for %d rows × %d columns", len(ent.Values), len(ent.Chr), len(t.Columns))
		}
		t.Chr = append(t.Chr, ent.Chr...)
		t.RS = append(t.RS, ent.RS...)
		t.Values = append(t.Values, ent.Values...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if first {
		return nil, nil, fmt.Errorf("empty input: not a table container")
	}
	return &t, meta, nil
}

var nan32 = float32(math.NaN())

func isNaN32(v float32) bool {
	return v != v
}
