package placement

import (
	"tilecraft.ai/internal/block"
	"tilecraft.ai/internal/protocol"
)

// Structure is a rectangular two-layer block region indexed [layer][x][y].
type Structure struct {
	Width  int
	Height int
	Blocks [protocol.LayerCount][][]block.Block
}

// NewEmptyStructure fills every cell of both layers with a copy of fill.
func NewEmptyStructure(width, height int, fill block.Block) Structure {
	s := Structure{Width: width, Height: height}
	for l := 0; l < protocol.LayerCount; l++ {
		s.Blocks[l] = make([][]block.Block, width)
		for x := 0; x < width; x++ {
			col := make([]block.Block, height)
			for y := range col {
				col[y] = fill.Clone()
			}
			s.Blocks[l][x] = col
		}
	}
	return s
}

func (s Structure) At(layer protocol.Layer, x, y int) (block.Block, bool) {
	if !layer.Valid() || x < 0 || y < 0 || x >= s.Width || y >= s.Height {
		return block.Block{}, false
	}
	cols := s.Blocks[layer]
	if x >= len(cols) || y >= len(cols[x]) {
		return block.Block{}, false
	}
	return cols[x][y], true
}

// Intents lists every cell of both layers shifted by offset: background
// first, then rows top to bottom, left to right within a row.
func (s Structure) Intents(offset protocol.Point) []Intent {
	out := make([]Intent, 0, s.Width*s.Height*protocol.LayerCount)
	for l := 0; l < protocol.LayerCount; l++ {
		out = append(out, s.LayerIntents(offset, protocol.Layer(l))...)
	}
	return out
}

func (s Structure) LayerIntents(offset protocol.Point, layer protocol.Layer) []Intent {
	out := make([]Intent, 0, s.Width*s.Height)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			b, ok := s.At(layer, x, y)
			if !ok {
				continue
			}
			out = append(out, Intent{
				Block: b.Clone(),
				Layer: layer,
				Pos:   protocol.Point{X: offset.X + int32(x), Y: offset.Y + int32(y)},
			})
		}
	}
	return out
}

func (s Structure) Packets(offset protocol.Point, capacity int) ([]protocol.Packet, error) {
	return Batch(s.Intents(offset), capacity)
}
