// Copyright (C) The ProteoNexus Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pqtl

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// manifestcmd scans a share tree and emits the JSON dataset
// description used to build the per-letter protein tarballs.
type manifestcmd struct{}

type proteinInfo struct {
	Name        string   `json:"name"`
	OutputFiles []string `json:"output_files"`
	PlotFiles   []string `json:"plot_files"`
}

type tarballGroup struct {
	Letter   string        `json:"letter"`
	Proteins []proteinInfo `json:"proteins"`
}

type datasetDescription struct {
	DateGenerated string                  `json:"date_generated"`
	Tarballs      map[string]tarballGroup `json:"tarballs"`
}

func (cmd *manifestcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	rootDir := flags.String("dir", "", "root `directory` containing protein subdirectories (required)")
	outputFilename := flags.String("o", "dataset_description.json", "output JSON `file` (\"-\" for stdout)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *rootDir == "" {
		err = fmt.Errorf("-dir is required")
		return 2
	}

	groups, err := scanShareTree(*rootDir)
	if err != nil {
		return 1
	}
	dateStamp := time.Now().Format("20060102")
	desc := datasetDescription{
		DateGenerated: dateStamp,
		Tarballs:      make(map[string]tarballGroup, len(groups)),
	}
	for letter, proteins := range groups {
		name := fmt.Sprintf("ProteoNexus_pQTL_protein_%s_%s.tar.gz", letter, dateStamp)
		desc.Tarballs[name] = tarballGroup{Letter: letter, Proteins: proteins}
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
	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	err = enc.Encode(desc)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	log.Infof("metadata for %d letter groups written to %s", len(groups), *outputFilename)
	return 0
}

// scanShareTree groups first-level subdirectories by initial letter
// a–z and collects each one's output/ and plot/ file lists.
func scanShareTree(rootDir string) (map[string][]proteinInfo, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]proteinInfo)
	for _, ent := range entries {
		if !ent.IsDir() || ent.Name() == "" {
			continue
		}
		first := strings.ToLower(ent.Name()[:1])
		if first < "a" || first > "z" {
			continue
		}
		info := proteinInfo{
			Name:        ent.Name(),
			OutputFiles: listFiles(filepath.Join(rootDir, ent.Name(), "output")),
			PlotFiles:   listFiles(filepath.Join(rootDir, ent.Name(), "plot")),
		}
		groups[first] = append(groups[first], info)
	}
	for letter := range groups {
		proteins := groups[letter]
		sort.Slice(proteins, func(i, j int) bool {
			return strings.ToLower(proteins[i].Name) < strings.ToLower(proteins[j].Name)
		})
	}
	return groups, nil
}

func listFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	sort.Strings(names)
	return names
}
