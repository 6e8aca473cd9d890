// Package mirror keeps the client-side copy of the world's two block layers.
// It is advisory: the server stays authoritative and the mirror tolerates
// coordinates it cannot hold.
package mirror

import (
	"fmt"
	"sync"

	"tilecraft.ai/internal/block"
	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/placement"
	"tilecraft.ai/internal/protocol"
)

type World struct {
	cats   *catalogs.Catalogs
	width  int
	height int
	empty  block.Block

	mu   sync.RWMutex
	grid [protocol.LayerCount][][]block.Block
}

// New allocates a width x height mirror with every cell set to the empty kind.
func New(cats *catalogs.Catalogs, width, height int) *World {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	w := &World{cats: cats, width: width, height: height, empty: emptyBlock(cats)}
	for l := 0; l < protocol.LayerCount; l++ {
		w.grid[l] = make([][]block.Block, width)
		for x := 0; x < width; x++ {
			w.grid[l][x] = make([]block.Block, height)
		}
	}
	return w
}

func emptyBlock(cats *catalogs.Catalogs) block.Block {
	if b, err := block.FromID(cats, block.EmptyID); err == nil {
		return b
	}
	return block.Block{Kind: block.Kind{ID: block.EmptyID, Name: "empty"}}
}

func (w *World) Width() int  { return w.width }
func (w *World) Height() int { return w.height }

func (w *World) Catalogs() *catalogs.Catalogs { return w.cats }

// Empty returns the block unset cells report.
func (w *World) Empty() block.Block { return w.empty.Clone() }

func (w *World) InBounds(p protocol.Point) bool {
	return p.X >= 0 && p.Y >= 0 && int(p.X) < w.width && int(p.Y) < w.height
}

// ApplyPacket writes the packet's block at every in-bounds position. Positions
// outside the world are skipped. A layer other than background or foreground,
// or a payload that cannot be decoded for the packet's kind, is an error and
// nothing is written.
func (w *World) ApplyPacket(p protocol.Packet) error {
	if !p.Layer.Valid() {
		return fmt.Errorf("%w %d", protocol.ErrBadLayer, p.Layer)
	}
	b, err := block.FromPayload(w.cats, p.BlockID, p.ExtraFields)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, pos := range p.Positions {
		if !w.InBounds(pos) {
			continue
		}
		w.grid[p.Layer][pos.X][pos.Y] = b.Clone()
	}
	return nil
}

// Set writes one cell. It reports false for out-of-range writes.
func (w *World) Set(layer protocol.Layer, p protocol.Point, b block.Block) bool {
	if !layer.Valid() || !w.InBounds(p) {
		return false
	}
	w.mu.Lock()
	w.grid[layer][p.X][p.Y] = b.Clone()
	w.mu.Unlock()
	return true
}

// BlockAt never fails; unknown or out-of-range cells read as the empty block.
func (w *World) BlockAt(p protocol.Point, layer protocol.Layer) block.Block {
	if !layer.Valid() || !w.InBounds(p) {
		return w.Empty()
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cellLocked(layer, int(p.X), int(p.Y))
}

// Region copies the rectangle spanned by two corners, inclusive, given in
// any order and clipped to the world. Cell (0,0) of the result is the
// top-left corner of the clipped rectangle. A rectangle entirely outside the
// world yields an empty structure.
func (w *World) Region(a, b protocol.Point) placement.Structure {
	minX, maxX := clipSpan(a.X, b.X, w.width)
	minY, maxY := clipSpan(a.Y, b.Y, w.height)
	if minX > maxX || minY > maxY {
		return placement.Structure{}
	}
	width := maxX - minX + 1
	height := maxY - minY + 1

	s := placement.NewEmptyStructure(width, height, w.empty)
	w.mu.RLock()
	defer w.mu.RUnlock()
	for l := 0; l < protocol.LayerCount; l++ {
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				s.Blocks[l][x][y] = w.cellLocked(protocol.Layer(l), minX+x, minY+y)
			}
		}
	}
	return s
}

func (w *World) cellLocked(layer protocol.Layer, x, y int) block.Block {
	b := w.grid[layer][x][y]
	if b.Kind.Name == "" && b.Kind.ID == block.EmptyID {
		return w.Empty()
	}
	return b.Clone()
}

// Structure exports the whole mirror.
func (w *World) Structure() placement.Structure {
	if w.width == 0 || w.height == 0 {
		return placement.Structure{}
	}
	return w.Region(protocol.Pt(0, 0), protocol.Pt(w.width-1, w.height-1))
}

// clipSpan orders two coordinates and clips them to [0, size). The result is
// lo > hi when the span misses the world.
func clipSpan(a, b int32, size int) (int, int) {
	lo, hi := int64(a), int64(b)
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi > int64(size)-1 {
		hi = int64(size) - 1
	}
	return int(lo), int(hi)
}
