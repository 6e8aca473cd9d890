package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tilecraft.ai/internal/encoding"
	"tilecraft.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "worlds"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

type kindCount struct {
	Name  string `json:"name"`
	Cells int    `json:"cells"`
}

type layerSummary struct {
	Layer    int         `json:"layer"`
	Kinds    []kindCount `json:"kinds"`
	ArgCells int         `json:"arg_cells"`
}

type snapshotSummary struct {
	Path   string          `json:"path"`
	Header snapshot.Header `json:"header"`
	Layers []layerSummary  `json:"layers"`
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin snapshot <path.snap.zst>...")
		os.Exit(2)
	}
	for _, p := range fs.Args() {
		s, err := summarize(strings.TrimSpace(p))
		if err != nil {
			fmt.Fprintln(os.Stderr, p+":", err)
			os.Exit(1)
		}
		printJSON(s)
	}
}

func summarize(path string) (snapshotSummary, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return snapshotSummary{}, err
	}
	out := snapshotSummary{Path: path, Header: snap.Header}
	for _, l := range snap.Layers {
		ids, err := encoding.DecodeRLE(l.Kinds)
		if err != nil {
			return snapshotSummary{}, fmt.Errorf("layer %d: %w", l.Layer, err)
		}
		counts := map[string]int{}
		for _, id := range ids {
			name, ok := snap.Palette[id]
			if !ok {
				name = fmt.Sprintf("#%d", id)
			}
			counts[name]++
		}
		ls := layerSummary{Layer: l.Layer, ArgCells: len(l.Args)}
		for name, n := range counts {
			ls.Kinds = append(ls.Kinds, kindCount{Name: name, Cells: n})
		}
		sort.Slice(ls.Kinds, func(i, j int) bool {
			if ls.Kinds[i].Cells != ls.Kinds[j].Cells {
				return ls.Kinds[i].Cells > ls.Kinds[j].Cells
			}
			return ls.Kinds[i].Name < ls.Kinds[j].Name
		})
		out.Layers = append(out.Layers, ls)
	}
	return out, nil
}
