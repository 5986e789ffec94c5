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
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	log "github.com/sirupsen/logrus"
)

// screener reports SNP–protein hits where a corrected q-value and a
// posterior inclusion probability simultaneously pass their
// thresholds, writing one CSV per (q, pip) threshold pair.
type screener struct {
	threads int
}

func (cmd *screener) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	qFilename := flags.String("q", "", "corrected q-value table container `file` (required)")
	pipFilename := flags.String("pip", "", "posterior-inclusion-probability table container `file` (required)")
	qThresholds := flags.String("q-thresholds", "0.05,0.01", "comma-separated q-value `thresholds`")
	pipThresholds := flags.String("pip-thresholds", "0.9,0.85,0.8", "comma-separated PIP `thresholds`")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	prefix := flags.String("prefix", "", "output filename `prefix`")
	flags.IntVar(&cmd.threads, "threads", 12, "worker `threads`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *qFilename == "" || *pipFilename == "" {
		err = fmt.Errorf("-q and -pip are required")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	qThr, err := parseFloatList(*qThresholds)
	if err != nil {
		return 2
	}
	pipThr, err := parseFloatList(*pipThresholds)
	if err != nil {
		return 2
	}

	qtab, err := loadTable(*qFilename)
	if err != nil {
		return 1
	}
	piptab, err := loadTable(*pipFilename)
	if err != nil {
		return 1
	}
	err = checkSameColumns(qtab.Columns, piptab.Columns)
	if err != nil {
		return 1
	}
	qtab, piptab, err = alignTables(qtab, piptab)
	if err != nil {
		return 1
	}
	rows, cols := qtab.Dims()
	log.Infof("aligned tables: %d shared markers × %d proteins", rows, cols)

	for _, qt := range qThr {
		for _, pt := range pipThr {
			err = cmd.screenPair(qtab, piptab, qt, pt, *outputDir, *prefix)
			if err != nil {
				return 1
			}
		}
	}
	return 0
}

func loadTable(fnm string) (*SNPTable, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tab, _, err := ReadSNPTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", fnm, err)
	}
	return tab, nil
}

// checkSameColumns requires identical test-column lists; the error
// carries a diff rather than both full lists.
func checkSameColumns(a, b []string) error {
	if len(a) == len(b) {
		same := true
		for i := range a {
			if a[i] != b[i] {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(strings.Join(a, "\n"), strings.Join(b, "\n"), true)
	var delta strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			delta.WriteString(" +" + strings.TrimSpace(d.Text))
		case diffmatchpatch.DiffDelete:
			delta.WriteString(" -" + strings.TrimSpace(d.Text))
		}
	}
	return fmt.Errorf("test columns differ between the two tables:%s", delta.String())
}

type snpKey struct {
	chr int32
	rs  string
}

// alignTables restricts both tables to their shared (chr, rs) keys,
// in ascending (chr, rs) order. An empty intersection is an error.
func alignTables(a, b *SNPTable) (*SNPTable, *SNPTable, error) {
	bIndex := make(map[snpKey]int, len(b.RS))
	for i := range b.RS {
		bIndex[snpKey{b.Chr[i], b.RS[i]}] = i
	}
	type pair struct{ ai, bi int }
	var common []pair
	for i := range a.RS {
		if j, ok := bIndex[snpKey{a.Chr[i], a.RS[i]}]; ok {
			common = append(common, pair{i, j})
		}
	}
	if len(common) == 0 {
		return nil, nil, fmt.Errorf("no overlapping (chr, rs) pairs between the two tables")
	}
	sort.Slice(common, func(x, y int) bool {
		if a.Chr[common[x].ai] != a.Chr[common[y].ai] {
			return a.Chr[common[x].ai] < a.Chr[common[y].ai]
		}
		return a.RS[common[x].ai] < a.RS[common[y].ai]
	})
	pick := func(t *SNPTable, rowOf func(pair) int) *SNPTable {
		cols := len(t.Columns)
		out := &SNPTable{
			Columns: t.Columns,
			Chr:     make([]int32, len(common)),
			RS:      make([]string, len(common)),
			Values:  make([]float32, len(common)*cols),
		}
		for w, p := range common {
			i := rowOf(p)
			out.Chr[w] = t.Chr[i]
			out.RS[w] = t.RS[i]
			copy(out.Values[w*cols:(w+1)*cols], t.Values[i*cols:(i+1)*cols])
		}
		return out
	}
	return pick(a, func(p pair) int { return p.ai }),
		pick(b, func(p pair) int { return p.bi }),
		nil
}

type screenHit struct {
	row int
	q   float32
	pip float32
}

func (cmd *screener) screenPair(qtab, piptab *SNPTable, qThr, pipThr float64, outputDir, prefix string) error {
	rows, cols := qtab.Dims()
	// One hit slice per protein column; each worker owns its slot.
	perColumn := make([][]screenHit, cols)
	workers := throttle{Max: cmd.threads}
	for j := 0; j < cols; j++ {
		j := j
		workers.Go(func() error {
			var hits []screenHit
			for i := 0; i < rows; i++ {
				q := qtab.Values[i*cols+j]
				p := piptab.Values[i*cols+j]
				if float64(q) < qThr && float64(p) > pipThr {
					hits = append(hits, screenHit{row: i, q: q, pip: p})
				}
			}
			perColumn[j] = hits
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return err
	}
	total := 0
	for _, hits := range perColumn {
		total += len(hits)
	}
	if total == 0 {
		log.Infof("q < %g, pip > %g: no hits", qThr, pipThr)
		return nil
	}
	fnm := filepath.Join(outputDir, fmt.Sprintf("%sq_%g-pip_%g.csv", prefix, qThr, pipThr))
	log.Infof("q < %g, pip > %g: %d hits → %s", qThr, pipThr, total, fnm)
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	_, err = fmt.Fprintln(bufw, "snp_name,protein,q_value,pip")
	if err != nil {
		return err
	}
	for j, hits := range perColumn {
		for _, h := range hits {
			_, err = fmt.Fprintf(bufw, "%s,%s,%v,%v\n", qtab.RS[h.row], qtab.Columns[j], h.q, h.pip)
			if err != nil {
				return err
			}
		}
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

func parseFloatList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("bad threshold %q", part)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty threshold list")
	}
	return out, nil
}
