package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_FillsMissingKeys(t *testing.T) {
	tu, err := Parse([]byte("server_url: ws://example:9000/ws\npacket_capacity: 50\njournal: false\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tu.ServerURL != "ws://example:9000/ws" || tu.PacketCapacity != 50 {
		t.Fatalf("explicit keys lost: %+v", tu)
	}
	if tu.Journal {
		t.Fatalf("journal should be false")
	}
	if tu.MaxStableStalls != 5 || tu.PollInterval() != time.Second {
		t.Fatalf("defaults not applied: %+v", tu)
	}
}

func TestParse_RejectsNegativeCapacity(t *testing.T) {
	if _, err := Parse([]byte("packet_capacity: -3\n")); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParse_BadYAML(t *testing.T) {
	if _, err := Parse([]byte("packet_capacity: [1,")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestLoad_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("world_id: w2\nmax_stable_stalls: 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.WorldID != "w2" || tu.MaxStableStalls != 9 || tu.PacketCapacity != 200 {
		t.Fatalf("unexpected %+v", tu)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	tu, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v", err)
	}
	if tu != Defaults() {
		t.Fatalf("want defaults, got %+v", tu)
	}
}

func TestSampleConfigParses(t *testing.T) {
	tu, err := Load("../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := tu.Validate(); err != nil {
		t.Fatal(err)
	}
}
