package placement

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"tilecraft.ai/internal/block"
	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/protocol"
)

func testCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	c, err := catalogs.FromMappings(map[string]uint32{
		"empty":          0,
		"basic_white":    1,
		"basic_black":    2,
		"coin_gold_door": 5,
		"sign_normal":    6,
	})
	if err != nil {
		t.Fatalf("FromMappings: %v", err)
	}
	return c
}

func mustBlock(t *testing.T, c *catalogs.Catalogs, name string, args ...any) block.Block {
	t.Helper()
	b, err := block.With(c, name, args...)
	if err != nil {
		t.Fatalf("block.With(%s): %v", name, err)
	}
	return b
}

func TestBatch_CapacityExample(t *testing.T) {
	c := testCatalogs(t)
	a := mustBlock(t, c, "basic_white")
	b := mustBlock(t, c, "basic_black")
	intents := []Intent{
		{Block: a, Layer: protocol.Foreground, Pos: protocol.Pt(0, 0)},
		{Block: a, Layer: protocol.Foreground, Pos: protocol.Pt(1, 0)},
		{Block: a, Layer: protocol.Foreground, Pos: protocol.Pt(2, 0)},
		{Block: b, Layer: protocol.Foreground, Pos: protocol.Pt(0, 1)},
	}
	got, err := Batch(intents, 2)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	want := []protocol.Packet{
		{BlockID: 1, Layer: protocol.Foreground, Positions: []protocol.Point{protocol.Pt(0, 0), protocol.Pt(1, 0)}},
		{BlockID: 1, Layer: protocol.Foreground, Positions: []protocol.Point{protocol.Pt(2, 0)}},
		{BlockID: 2, Layer: protocol.Foreground, Positions: []protocol.Point{protocol.Pt(0, 1)}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v\nwant %+v", got, want)
	}
}

func TestBatch_Empty(t *testing.T) {
	got, err := Batch(nil, DefaultCapacity)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no packets, got %d", len(got))
	}
}

func TestBatch_RejectsBadCapacity(t *testing.T) {
	if _, err := Batch(nil, 0); err == nil {
		t.Fatalf("expected capacity error")
	}
}

func TestBatch_Homogeneity(t *testing.T) {
	c := testCatalogs(t)
	var intents []Intent
	for i := 0; i < 60; i++ {
		var b block.Block
		switch i % 4 {
		case 0:
			b = mustBlock(t, c, "coin_gold_door", int32(i%3))
		case 1:
			b = mustBlock(t, c, "sign_normal", "hi")
		case 2:
			b = mustBlock(t, c, "basic_white")
		default:
			b = mustBlock(t, c, "coin_gold_door", int32(1))
		}
		intents = append(intents, Intent{Block: b, Layer: protocol.Layer(i % 2), Pos: protocol.Pt(i, i/7)})
	}
	packets, err := Batch(intents, 5)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if PositionCount(packets) != len(intents) {
		t.Fatalf("positions=%d want %d", PositionCount(packets), len(intents))
	}

	// Recover the origin of each position and check it against its packet.
	byPos := map[protocol.Point]Intent{}
	for _, in := range intents {
		byPos[in.Pos] = in
	}
	for _, p := range packets {
		if len(p.Positions) == 0 || len(p.Positions) > 5 {
			t.Fatalf("packet size %d out of bounds", len(p.Positions))
		}
		for _, pos := range p.Positions {
			in := byPos[pos]
			extra, _ := in.Block.SerializeArgs()
			if in.Block.ID() != p.BlockID || in.Layer != p.Layer || !bytes.Equal(extra, p.ExtraFields) {
				t.Fatalf("position %v (from %v) landed in packet %+v", pos, in.Block, p)
			}
		}
	}
}

func TestBatch_SingleGroupWithinCapacity(t *testing.T) {
	c := testCatalogs(t)
	door := mustBlock(t, c, "coin_gold_door", int32(4))
	intents := make([]Intent, DefaultCapacity)
	for i := range intents {
		intents[i] = Intent{Block: door, Layer: protocol.Foreground, Pos: protocol.Pt(i, 0)}
	}
	packets, err := Batch(intents, DefaultCapacity)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(packets) != 1 || len(packets[0].Positions) != DefaultCapacity {
		t.Fatalf("packets=%d", len(packets))
	}

	packets, _ = Batch(append(intents, intents[0]), DefaultCapacity)
	if len(packets) != 2 || len(packets[1].Positions) != 1 {
		t.Fatalf("overflow not split: %d packets", len(packets))
	}
}

func TestBatch_FirstFitReusesEarlierPacket(t *testing.T) {
	c := testCatalogs(t)
	a := mustBlock(t, c, "basic_white")
	b := mustBlock(t, c, "basic_black")
	intents := []Intent{
		{Block: a, Layer: protocol.Foreground, Pos: protocol.Pt(0, 0)},
		{Block: b, Layer: protocol.Foreground, Pos: protocol.Pt(1, 0)},
		{Block: a, Layer: protocol.Background, Pos: protocol.Pt(2, 0)},
		{Block: a, Layer: protocol.Foreground, Pos: protocol.Pt(3, 0)},
		{Block: a, Layer: protocol.Foreground, Pos: protocol.Pt(3, 0)},
	}
	packets, _ := Batch(intents, 10)
	if len(packets) != 3 {
		t.Fatalf("packets=%d", len(packets))
	}
	want := []protocol.Point{protocol.Pt(0, 0), protocol.Pt(3, 0), protocol.Pt(3, 0)}
	if !reflect.DeepEqual(packets[0].Positions, want) {
		t.Fatalf("first packet positions=%v", packets[0].Positions)
	}
}

func TestBatch_Deterministic(t *testing.T) {
	c := testCatalogs(t)
	var intents []Intent
	for i := 0; i < 500; i++ {
		name := []string{"basic_white", "basic_black", "empty"}[i%3]
		intents = append(intents, Intent{Block: mustBlock(t, c, name), Layer: protocol.Layer(i % 2), Pos: protocol.Pt(i%40, i/40)})
	}
	first, _ := Batch(intents, 7)
	for k := 0; k < 5; k++ {
		again, _ := Batch(intents, 7)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs", k)
		}
	}
}

func TestBatch_EncodingErrorSurfaces(t *testing.T) {
	c := testCatalogs(t)
	bad, _ := block.FromName(c, "coin_gold_door")
	bad.Args[0] = "nope"
	if _, err := Batch([]Intent{{Block: bad, Layer: protocol.Foreground}}, 10); err == nil {
		t.Fatalf("expected encoding error")
	}
}

func TestBatch_RejectsBadLayer(t *testing.T) {
	c := testCatalogs(t)
	white := mustBlock(t, c, "basic_white")
	intents := []Intent{
		{Block: white, Layer: protocol.Foreground, Pos: protocol.Pt(0, 0)},
		{Block: white, Layer: protocol.Layer(7), Pos: protocol.Pt(1, 0)},
	}
	packets, err := Batch(intents, 10)
	if !errors.Is(err, protocol.ErrBadLayer) {
		t.Fatalf("err=%v", err)
	}
	if packets != nil {
		t.Fatalf("packets=%v", packets)
	}
}
