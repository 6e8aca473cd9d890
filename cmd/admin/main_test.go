package main

import (
	"path/filepath"
	"testing"

	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/mirror"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/protocol"
)

func TestSummarize(t *testing.T) {
	cats, err := catalogs.FromMappings(map[string]uint32{"empty": 0, "basic_white": 1, "sign_normal": 6})
	if err != nil {
		t.Fatal(err)
	}
	w := mirror.New(cats, 3, 2)
	if err := w.ApplyPacket(protocol.Packet{BlockID: 1, Layer: protocol.Foreground, Positions: []protocol.Point{protocol.Pt(0, 0), protocol.Pt(1, 0)}}); err != nil {
		t.Fatal(err)
	}
	if err := w.ApplyPacket(protocol.Packet{BlockID: 6, Layer: protocol.Foreground, Positions: []protocol.Point{protocol.Pt(2, 1)}, ExtraFields: []byte{1, 'a'}}); err != nil {
		t.Fatal(err)
	}
	snap, err := w.ExportSnapshot("w1")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "m.snap.zst")
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatal(err)
	}

	s, err := summarize(path)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.Header.WorldID != "w1" || len(s.Layers) != 2 {
		t.Fatalf("summary=%+v", s)
	}
	var fg layerSummary
	for _, l := range s.Layers {
		if l.Layer == int(protocol.Foreground) {
			fg = l
		}
	}
	if fg.ArgCells != 1 {
		t.Fatalf("arg cells=%d", fg.ArgCells)
	}
	want := []kindCount{{"empty", 3}, {"basic_white", 2}, {"sign_normal", 1}}
	if len(fg.Kinds) != len(want) {
		t.Fatalf("kinds=%+v", fg.Kinds)
	}
	for i := range want {
		if fg.Kinds[i] != want[i] {
			t.Fatalf("kinds[%d]=%+v want %+v", i, fg.Kinds[i], want[i])
		}
	}
}
