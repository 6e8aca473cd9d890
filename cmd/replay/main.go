package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sanity-io/litter"

	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/mirror"
	journal "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/snapshot"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "starting snapshot (.snap.zst, optional)")
		journalDir = flag.String("journal", "", "dir containing placements-*.jsonl.zst (optional)")
		configDir  = flag.String("configs", "./configs", "config directory")
		width      = flag.Int("width", 0, "world width when no snapshot is given")
		height     = flag.Int("height", 0, "world height when no snapshot is given")
		worldID    = flag.String("world", "", "world id for the output snapshot")
		fromSeq    = flag.Uint64("from_seq", 0, "first journal seq to apply (inclusive, optional)")
		toSeq      = flag.Uint64("to_seq", 0, "last journal seq to apply (inclusive, optional)")
		outPath    = flag.String("out", "", "write the rebuilt mirror to this snapshot path (optional)")
		dump       = flag.Bool("dump", false, "dump every applied packet and its decoded block")
	)
	flag.Parse()

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}

	var w *mirror.World
	id := strings.TrimSpace(*worldID)
	if p := strings.TrimSpace(*snapPath); p != "" {
		snap, err := snapshot.ReadSnapshot(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		if snap.Header.KindsDigest != "" && snap.Header.KindsDigest != cats.Kinds.Digest {
			fmt.Fprintln(os.Stderr, "note: snapshot was taken under a different kind table; remapping by name")
		}
		w, err = mirror.ImportSnapshot(cats, snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "import snapshot:", err)
			os.Exit(1)
		}
		if id == "" {
			id = snap.Header.WorldID
		}
		fmt.Printf("snapshot v%d world=%s size=%dx%d created=%s\n", snap.Header.Version, snap.Header.WorldID, snap.Header.Width, snap.Header.Height, snap.Header.CreatedAt)
	} else {
		if *width <= 0 || *height <= 0 {
			fmt.Fprintln(os.Stderr, "missing -snapshot or -width/-height")
			os.Exit(2)
		}
		w = mirror.New(cats, *width, *height)
	}

	if d := strings.TrimSpace(*journalDir); d != "" {
		files, err := journal.ListFiles(d)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list journal:", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			fmt.Fprintln(os.Stderr, "no journal files found in", d)
			os.Exit(1)
		}
		r := &replayer{world: w, from: *fromSeq, to: *toSeq}
		if *dump {
			litter.Config.HidePrivateFields = false
			r.dump = os.Stdout
		}
		for _, path := range files {
			if err := r.replayFile(path); err != nil {
				fmt.Fprintln(os.Stderr, "replay:", err)
				os.Exit(1)
			}
		}
		fmt.Printf("replay ok: files=%d applied=%d skipped=%d positions=%d\n", len(files), r.applied, r.skipped, r.positions)
	}

	if p := strings.TrimSpace(*outPath); p != "" {
		snap, err := w.ExportSnapshot(id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "export:", err)
			os.Exit(1)
		}
		if err := snapshot.WriteSnapshot(p, snap); err != nil {
			fmt.Fprintln(os.Stderr, "write snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", filepath.Clean(p))
	}
}
