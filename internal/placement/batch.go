// Package placement groups block placement intents into wire packets.
package placement

import (
	"bytes"
	"fmt"

	"tilecraft.ai/internal/block"
	"tilecraft.ai/internal/protocol"
)

// DefaultCapacity is the most positions one placement packet may carry.
const DefaultCapacity = 200

type Intent struct {
	Block block.Block
	Layer protocol.Layer
	Pos   protocol.Point
}

// Batch packs intents into packets in a single first-fit pass. A packet only
// holds positions whose kind, layer and encoded argument bytes are identical,
// and never more than capacity of them. Repeated positions are kept. An
// intent on a layer other than background or foreground fails the batch.
func Batch(intents []Intent, capacity int) ([]protocol.Packet, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("packet capacity must be positive, got %d", capacity)
	}
	packets := make([]protocol.Packet, 0)
	for i, in := range intents {
		if !in.Layer.Valid() {
			return nil, fmt.Errorf("intent %d at %d,%d: %w %d", i, in.Pos.X, in.Pos.Y, protocol.ErrBadLayer, in.Layer)
		}
		extra, err := in.Block.SerializeArgs()
		if err != nil {
			return nil, fmt.Errorf("intent %d at %d,%d: %w", i, in.Pos.X, in.Pos.Y, err)
		}
		found := false
		for j := range packets {
			p := &packets[j]
			if len(p.Positions) >= capacity {
				continue
			}
			if p.BlockID != in.Block.ID() || p.Layer != in.Layer {
				continue
			}
			if !bytes.Equal(p.ExtraFields, extra) {
				continue
			}
			p.Positions = append(p.Positions, in.Pos)
			found = true
			break
		}
		if !found {
			packets = append(packets, protocol.Packet{
				BlockID:     in.Block.ID(),
				Layer:       in.Layer,
				Positions:   []protocol.Point{in.Pos},
				ExtraFields: extra,
			})
		}
	}
	return packets, nil
}

// PositionCount sums the positions across packets.
func PositionCount(packets []protocol.Packet) int {
	n := 0
	for _, p := range packets {
		n += len(p.Positions)
	}
	return n
}
