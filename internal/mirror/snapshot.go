package mirror

import (
	"fmt"
	"time"

	"tilecraft.ai/internal/block"
	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/encoding"
	snapv1 "tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/protocol"
)

// ExportSnapshot serializes both layers. Argument payloads are stored per cell
// for kinds that carry a format.
func (w *World) ExportSnapshot(worldID string) (snapv1.MirrorV1, error) {
	snap := snapv1.MirrorV1{
		Header: snapv1.Header{
			Version:   snapv1.Version,
			WorldID:   worldID,
			Width:     w.width,
			Height:    w.height,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
		Palette: map[uint32]string{},
	}
	if w.cats != nil {
		snap.Header.KindsDigest = w.cats.Kinds.Digest
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	for l := 0; l < protocol.LayerCount; l++ {
		ids := make([]uint32, 0, w.width*w.height)
		var cells []snapv1.CellV1
		for y := 0; y < w.height; y++ {
			for x := 0; x < w.width; x++ {
				b := w.grid[l][x][y]
				if b.Kind.Name == "" && b.Kind.ID == block.EmptyID {
					b = w.empty
				}
				ids = append(ids, b.Kind.ID)
				snap.Palette[b.Kind.ID] = b.Kind.Name
				if len(b.Format()) == 0 {
					continue
				}
				payload, err := b.SerializeArgs()
				if err != nil {
					return snapv1.MirrorV1{}, fmt.Errorf("layer %d cell %d,%d: %w", l, x, y, err)
				}
				cells = append(cells, snapv1.CellV1{X: x, Y: y, Payload: payload})
			}
		}
		snap.Layers = append(snap.Layers, snapv1.LayerV1{
			Layer: l,
			Kinds: encoding.EncodeRLE(ids),
			Args:  cells,
		})
	}
	return snap, nil
}

// ImportSnapshot rebuilds a mirror, translating stored kind ids through their
// names into the ids of cats.
func ImportSnapshot(cats *catalogs.Catalogs, snap snapv1.MirrorV1) (*World, error) {
	w := New(cats, snap.Header.Width, snap.Header.Height)
	remap := make(map[uint32]block.Block, len(snap.Palette))
	for oldID, name := range snap.Palette {
		b, err := block.FromName(cats, name)
		if err != nil {
			return nil, fmt.Errorf("palette id %d: %w", oldID, err)
		}
		remap[oldID] = b
	}

	for _, layer := range snap.Layers {
		if !protocol.Layer(layer.Layer).Valid() {
			return nil, fmt.Errorf("bad layer %d", layer.Layer)
		}
		ids, err := encoding.DecodeRLE(layer.Kinds)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", layer.Layer, err)
		}
		if len(ids) != w.width*w.height {
			return nil, fmt.Errorf("layer %d: %d cells for %dx%d", layer.Layer, len(ids), w.width, w.height)
		}
		payloads := make(map[[2]int][]byte, len(layer.Args))
		for _, c := range layer.Args {
			payloads[[2]int{c.X, c.Y}] = c.Payload
		}
		for i, id := range ids {
			x, y := i%w.width, i/w.width
			tmpl, ok := remap[id]
			if !ok {
				return nil, fmt.Errorf("layer %d cell %d,%d: id %d missing from palette", layer.Layer, x, y, id)
			}
			b := tmpl.Clone()
			if len(b.Format()) > 0 {
				r := encoding.NewReader(payloads[[2]int{x, y}])
				if err := b.DeserializeArgs(r, false); err != nil {
					return nil, fmt.Errorf("layer %d cell %d,%d: %w", layer.Layer, x, y, err)
				}
			}
			w.grid[layer.Layer][x][y] = b
		}
	}
	return w, nil
}
