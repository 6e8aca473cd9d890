package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tilecraft.ai/internal/bulk"
	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/mirror"
	"tilecraft.ai/internal/persistence/indexdb"
	journal "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/session"
	"tilecraft.ai/internal/transport/ws"
	"tilecraft.ai/internal/tuning"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		configDir  = flag.String("configs", "./configs", "config directory (blocks.json used when the server sends no mappings)")
		url        = flag.String("url", "", "ws url (overrides tuning)")
		worldID    = flag.String("world", "", "world id (overrides tuning)")
		token      = flag.String("token", os.Getenv("TILECRAFT_TOKEN"), "join token")
		capacity   = flag.Int("capacity", 0, "positions per packet (overrides tuning)")
		structure  = flag.String("structure", "", "snapshot file whose contents are pasted into the world")
		x          = flag.Int("x", 0, "paste offset x")
		y          = flag.Int("y", 0, "paste offset y")
		layer      = flag.String("layer", "all", "layers to paste: all|background|foreground")
		wipe       = flag.Bool("clear", false, "clear the whole world first")
		save       = flag.String("save", "", "write the mirror to this snapshot path before exiting")
		follow     = flag.Bool("follow", false, "keep mirroring the world until interrupted")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
	}
	if s := strings.TrimSpace(*url); s != "" {
		tune.ServerURL = s
	}
	if s := strings.TrimSpace(*worldID); s != "" {
		tune.WorldID = s
	}
	if *capacity > 0 {
		tune.PacketCapacity = *capacity
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := ws.Dial(ctx, ws.Config{
		URL:      tune.ServerURL,
		WorldID:  tune.WorldID,
		Token:    *token,
		OutQueue: tune.OutQueue,
		Logger:   log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds),

		ProtocolVersion: tune.ProtocolVersion,
	})
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer client.Close()
	welcome := client.Welcome()
	logger.Printf("WELCOME player_id=%d size=%dx%d kinds=%d", welcome.PlayerID, welcome.Width, welcome.Height, len(welcome.Mappings))

	var cats *catalogs.Catalogs
	if len(welcome.Mappings) > 0 {
		cats, err = catalogs.FromMappings(welcome.Mappings)
	} else {
		cats, err = catalogs.Load(*configDir)
	}
	if err != nil {
		logger.Fatalf("load kinds: %v", err)
	}

	world := mirror.New(cats, welcome.Width, welcome.Height)
	tracker := bulk.NewTracker()
	go tracker.Feed(ctx, client.Acks())
	go func() {
		if err := client.Run(ctx, world); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("connection closed: %v", err)
		}
	}()

	worldDir := filepath.Join(tune.DataDir, "worlds", tune.WorldID)
	cfg := session.Config{
		WorldID:    tune.WorldID,
		Catalogs:   cats,
		Mirror:     world,
		Dispatcher: client,
		Tracker:    tracker,
		Capacity:   tune.PacketCapacity,
		Policy:     bulk.Policy{PollInterval: tune.PollInterval(), MaxStableStalls: tune.MaxStableStalls},
		Logger:     logger,
	}
	if tune.Journal {
		j := journal.NewPlacementLogger(worldDir)
		defer j.Close()
		cfg.Journal = j
	}
	var idx *indexdb.SQLiteIndex
	if tune.Index {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "client.sqlite"), tune.WorldID)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertKinds(cats); err != nil {
			logger.Printf("index kinds: %v", err)
		}
		cfg.Index = idx
	}

	sess, err := session.New(cfg)
	if err != nil {
		logger.Fatalf("session: %v", err)
	}

	if *wipe {
		report(logger, "clear", time.Now(), func() (bool, error) { return sess.ClearWorld(ctx) })
	}
	if p := strings.TrimSpace(*structure); p != "" {
		if err := paste(ctx, logger, sess, p, protocol.Pt(*x, *y), *layer); err != nil {
			logger.Fatalf("paste: %v", err)
		}
	}

	if *follow {
		select {
		case <-ctx.Done():
		case <-client.Done():
		}
	}

	if p := strings.TrimSpace(*save); p != "" {
		snap, err := world.ExportSnapshot(tune.WorldID)
		if err != nil {
			logger.Fatalf("export mirror: %v", err)
		}
		if err := snapshot.WriteSnapshot(p, snap); err != nil {
			logger.Fatalf("write snapshot: %v", err)
		}
		idx.RecordSnapshot(p, world.Width(), world.Height(), world.Width()*world.Height()*protocol.LayerCount)
		logger.Printf("saved mirror to %s", p)
	}
}

func paste(ctx context.Context, logger *log.Logger, sess *session.Session, path string, at protocol.Point, layer string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	src, err := mirror.ImportSnapshot(sess.Catalogs(), snap)
	if err != nil {
		return err
	}
	st := src.Structure()
	logger.Printf("pasting %s (%dx%d) at %d,%d layer=%s", filepath.Base(path), st.Width, st.Height, at.X, at.Y, layer)

	start := time.Now()
	switch strings.ToLower(layer) {
	case "", "all":
		report(logger, "structure", start, func() (bool, error) { return sess.PlaceStructure(ctx, st, at) })
	case "background":
		report(logger, "structure", start, func() (bool, error) { return sess.PlaceStructureLayer(ctx, st, at, protocol.Background) })
	case "foreground":
		report(logger, "structure", start, func() (bool, error) { return sess.PlaceStructureLayer(ctx, st, at, protocol.Foreground) })
	default:
		return fmt.Errorf("unknown layer %q", layer)
	}
	return nil
}

func report(logger *log.Logger, op string, start time.Time, fn func() (bool, error)) {
	ok, err := fn()
	switch {
	case err != nil:
		logger.Printf("%s failed: %v", op, err)
	case !ok:
		logger.Printf("%s incomplete after %s", op, time.Since(start).Round(time.Millisecond))
	default:
		logger.Printf("%s done in %s", op, time.Since(start).Round(time.Millisecond))
	}
}
