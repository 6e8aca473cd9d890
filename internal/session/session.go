// Package session ties the mirror, the batcher and the bulk tracker to an
// outbound transport. It is the only place that mutates the mirror on behalf
// of the local player.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"tilecraft.ai/internal/block"
	"tilecraft.ai/internal/bulk"
	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/mirror"
	journal "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/indexdb"
	"tilecraft.ai/internal/placement"
	"tilecraft.ai/internal/protocol"
)

// Dispatcher hands a packet to the server. It does not wait for the server
// to apply it.
type Dispatcher interface {
	SendPlacement(p protocol.Packet) error
}

type Journal interface {
	WritePacket(e journal.PlacementEntry) error
}

type Index interface {
	RecordPacket(kind string, p protocol.Packet)
	RecordBulk(r indexdb.BulkRow)
}

type Config struct {
	WorldID    string
	Catalogs   *catalogs.Catalogs
	Mirror     *mirror.World
	Dispatcher Dispatcher
	Tracker    *bulk.Tracker

	// Capacity defaults to placement.DefaultCapacity.
	Capacity int
	Policy   bulk.Policy

	Journal Journal
	Index   Index
	Logger  *log.Logger
}

type Session struct {
	worldID  string
	cats     *catalogs.Catalogs
	mirror   *mirror.World
	out      Dispatcher
	tracker  *bulk.Tracker
	capacity int
	policy   bulk.Policy

	journal Journal
	index   Index
	logger  *log.Logger
}

func New(cfg Config) (*Session, error) {
	if cfg.Catalogs == nil {
		return nil, errors.New("session: nil catalogs")
	}
	if cfg.Mirror == nil {
		return nil, errors.New("session: nil mirror")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("session: nil dispatcher")
	}
	if cfg.Tracker == nil {
		cfg.Tracker = bulk.NewTracker()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = placement.DefaultCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Session{
		worldID:  cfg.WorldID,
		cats:     cfg.Catalogs,
		mirror:   cfg.Mirror,
		out:      cfg.Dispatcher,
		tracker:  cfg.Tracker,
		capacity: cfg.Capacity,
		policy:   cfg.Policy,
		journal:  cfg.Journal,
		index:    cfg.Index,
		logger:   cfg.Logger,
	}, nil
}

func (s *Session) Mirror() *mirror.World        { return s.mirror }
func (s *Session) Tracker() *bulk.Tracker       { return s.tracker }
func (s *Session) Catalogs() *catalogs.Catalogs { return s.cats }

// PlacePacket applies p to the mirror and then sends it. The mirror is
// updated first so reads issued right after return already see the change;
// if the server rejects the packet it closes the connection. A packet the
// mirror refuses (bad layer, undecodable payload) is never sent.
func (s *Session) PlacePacket(p protocol.Packet) error {
	if err := s.mirror.ApplyPacket(p); err != nil {
		return fmt.Errorf("apply packet: %w", err)
	}
	if err := s.out.SendPlacement(p); err != nil {
		return fmt.Errorf("send packet: %w", err)
	}
	s.record(p)
	return nil
}

func (s *Session) record(p protocol.Packet) {
	if s.journal == nil && s.index == nil {
		return
	}
	kind, _ := s.cats.Kinds.Name(p.BlockID)
	if s.journal != nil {
		if err := s.journal.WritePacket(journal.PlacementEntry{World: s.worldID, Kind: kind, Packet: p}); err != nil {
			s.logger.Printf("journal: %v", err)
		}
	}
	if s.index != nil {
		s.index.RecordPacket(kind, p)
	}
}

// PlaceBlock sends b to every position as one packet, without batching or
// waiting for acknowledgement.
func (s *Session) PlaceBlock(b block.Block, layer protocol.Layer, positions ...protocol.Point) error {
	p, err := b.ToPacket(layer, positions...)
	if err != nil {
		return err
	}
	return s.PlacePacket(p)
}

// PlaceMany batches intents and waits until the server acknowledged all of
// them. An empty list succeeds without touching the tracker.
func (s *Session) PlaceMany(ctx context.Context, intents []placement.Intent) (bool, error) {
	if len(intents) == 0 {
		return true, nil
	}
	return s.placeAndAwait(ctx, "many", intents, len(intents))
}

// PlaceStructure places both layers of st with its top-left corner at pos.
func (s *Session) PlaceStructure(ctx context.Context, st placement.Structure, pos protocol.Point) (bool, error) {
	return s.placeAndAwait(ctx, "structure", st.Intents(pos), st.Width*st.Height*protocol.LayerCount)
}

func (s *Session) PlaceStructureLayer(ctx context.Context, st placement.Structure, pos protocol.Point, layer protocol.Layer) (bool, error) {
	if !layer.Valid() {
		return false, fmt.Errorf("invalid layer %d", layer)
	}
	return s.placeAndAwait(ctx, "structure_"+layer.String(), st.LayerIntents(pos, layer), st.Width*st.Height)
}

// ClearWorld overwrites every cell of both layers with the empty kind.
func (s *Session) ClearWorld(ctx context.Context) (bool, error) {
	st := placement.NewEmptyStructure(s.mirror.Width(), s.mirror.Height(), s.mirror.Empty())
	return s.placeAndAwait(ctx, "clear", st.Intents(protocol.Point{}), st.Width*st.Height*protocol.LayerCount)
}

// CopyArea snapshots the mirror rectangle spanned by from and to.
func (s *Session) CopyArea(from, to protocol.Point) placement.Structure {
	return s.mirror.Region(from, to)
}

func (s *Session) PasteArea(ctx context.Context, offset protocol.Point, st placement.Structure) (bool, error) {
	return s.placeAndAwait(ctx, "paste", st.Intents(offset), st.Width*st.Height*protocol.LayerCount)
}

func (s *Session) placeAndAwait(ctx context.Context, op string, intents []placement.Intent, expected int) (bool, error) {
	packets, err := placement.Batch(intents, s.capacity)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	started := time.Now().UTC()
	pending := s.tracker.Begin(expected)
	for _, p := range packets {
		if err := s.PlacePacket(p); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}

	ok, err := pending.Await(ctx, s.policy)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.logger.Printf("%s: stalled with %d of %d placements unacknowledged", op, pending.Remaining(), expected)
	}
	if s.index != nil {
		s.index.RecordBulk(indexdb.BulkRow{
			Op:         op,
			Expected:   expected,
			Remaining:  pending.Remaining(),
			Packets:    len(packets),
			OK:         ok,
			StartedAt:  started.Format(time.RFC3339Nano),
			FinishedAt: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
	return ok, nil
}

// BlockAt returns the mirrored block, or the empty block outside the world.
func (s *Session) BlockAt(pos protocol.Point, layer protocol.Layer) block.Block {
	return s.mirror.BlockAt(pos, layer)
}

func (s *Session) BlockName(id uint32) (string, bool) { return s.cats.Kinds.Name(id) }

func (s *Session) BlockIDFromString(name string) (uint32, bool) { return s.cats.Kinds.ID(name) }

func (s *Session) BlockLayer(id uint32) (protocol.Layer, bool) {
	l, ok := s.cats.Kinds.Layer(id)
	if !ok {
		return 0, false
	}
	return protocol.Layer(l), true
}
