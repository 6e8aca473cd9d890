package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"tilecraft.ai/internal/encoding"
)

// Layer is one of the two independent grid planes.
type Layer uint8

const (
	Background Layer = 0
	Foreground Layer = 1

	LayerCount = 2
)

var ErrBadLayer = errors.New("bad layer")

func (l Layer) Valid() bool { return l == Background || l == Foreground }

func (l Layer) String() string {
	switch l {
	case Background:
		return "background"
	case Foreground:
		return "foreground"
	}
	return fmt.Sprintf("layer(%d)", uint8(l))
}

type Point struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

func Pt(x, y int) Point { return Point{X: int32(x), Y: int32(y)} }

// Packet places one block description (kind + encoded arguments) at every
// listed position. ExtraFields is the format-driven argument payload.
type Packet struct {
	PlayerID        int32   `json:"player_id,omitempty"`
	BlockID         uint32  `json:"block_id"`
	Layer           Layer   `json:"layer"`
	Positions       []Point `json:"positions"`
	ExtraFields     []byte  `json:"extra_fields,omitempty"`
	IsFillOperation bool    `json:"is_fill_operation,omitempty"`
}

// FillPacket asks the server to flood-fill from a single position.
type FillPacket struct {
	BlockID      uint32 `json:"block_id"`
	Layer        Layer  `json:"layer"`
	Position     Point  `json:"position"`
	ExtraFields  []byte `json:"extra_fields,omitempty"`
	IgnoreLayers bool   `json:"ignore_layers,omitempty"`
}

// MarshalBinary lays the packet out as: uint32 LE kind id, one layer byte,
// uvarint position count, int32 LE x/y pairs, then the argument payload to
// the end of the buffer. The payload carries no length of its own.
func (p Packet) MarshalBinary() ([]byte, error) {
	if !p.Layer.Valid() {
		return nil, fmt.Errorf("%w %d", ErrBadLayer, p.Layer)
	}
	b := make([]byte, 0, 4+1+binary.MaxVarintLen64+8*len(p.Positions)+len(p.ExtraFields))
	b = binary.LittleEndian.AppendUint32(b, p.BlockID)
	b = append(b, byte(p.Layer))
	b = binary.AppendUvarint(b, uint64(len(p.Positions)))
	for _, pos := range p.Positions {
		b = binary.LittleEndian.AppendUint32(b, uint32(pos.X))
		b = binary.LittleEndian.AppendUint32(b, uint32(pos.Y))
	}
	return append(b, p.ExtraFields...), nil
}

func (p *Packet) UnmarshalBinary(b []byte) error {
	r := encoding.NewReader(b)
	id, err := r.ReadUint32LE()
	if err != nil {
		return fmt.Errorf("block id: %w", err)
	}
	layer, err := r.ReadUint8()
	if err != nil {
		return fmt.Errorf("layer: %w", err)
	}
	if !Layer(layer).Valid() {
		return fmt.Errorf("%w %d", ErrBadLayer, layer)
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return fmt.Errorf("position count: %w", err)
	}
	if n > uint64(r.Remaining()/8) {
		return fmt.Errorf("position count %d: %w", n, encoding.ErrTruncatedInput)
	}
	positions := make([]Point, 0, n)
	for i := uint64(0); i < n; i++ {
		x, _ := r.ReadUint32LE()
		y, _ := r.ReadUint32LE()
		positions = append(positions, Point{X: int32(x), Y: int32(y)})
	}
	var extra []byte
	if rest := r.Rest(); len(rest) > 0 {
		extra = append([]byte(nil), rest...)
	}
	*p = Packet{
		BlockID:     id,
		Layer:       Layer(layer),
		Positions:   positions,
		ExtraFields: extra,
	}
	return nil
}
