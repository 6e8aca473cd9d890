package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/sanity-io/litter"

	"tilecraft.ai/internal/block"
	"tilecraft.ai/internal/mirror"
	journal "tilecraft.ai/internal/persistence/log"
)

type replayer struct {
	world *mirror.World
	from  uint64
	to    uint64
	dump  io.Writer

	applied   int
	skipped   int
	positions int
}

// replayFile applies every entry of one journal file in order. Kind names
// recorded in the journal win over ids, so a journal written under an older
// deploy replays onto the current kind table.
func (r *replayer) replayFile(path string) error {
	return journal.ScanEntries(path, func(e journal.PlacementEntry) error {
		if e.Seq < r.from || (r.to != 0 && e.Seq > r.to) {
			r.skipped++
			return nil
		}
		p := e.Packet
		if e.Kind != "" {
			id, ok := r.world.Catalogs().Kinds.ID(e.Kind)
			if !ok {
				return fmt.Errorf("%s seq %d: %w: %q", filepath.Base(path), e.Seq, block.ErrInvalidBlockKind, e.Kind)
			}
			p.BlockID = id
		}
		if r.dump != nil {
			b, err := block.FromPayload(r.world.Catalogs(), p.BlockID, p.ExtraFields)
			if err != nil {
				return fmt.Errorf("%s seq %d: %w", filepath.Base(path), e.Seq, err)
			}
			fmt.Fprintf(r.dump, "# seq=%d %s\n%s\n%s\n", e.Seq, e.Time.Format("2006-01-02T15:04:05Z07:00"), litter.Sdump(p), litter.Sdump(b))
		}
		if err := r.world.ApplyPacket(p); err != nil {
			return fmt.Errorf("%s seq %d: %w", filepath.Base(path), e.Seq, err)
		}
		r.applied++
		r.positions += len(p.Positions)
		return nil
	})
}
