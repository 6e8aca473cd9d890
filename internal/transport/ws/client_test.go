package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilecraft.ai/internal/block"
	"tilecraft.ai/internal/bulk"
	"tilecraft.ai/internal/catalogs"
	"tilecraft.ai/internal/mirror"
	"tilecraft.ai/internal/placement"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/session"
)

type fakeServer struct {
	playerID int32
	reply    func(hello protocol.HelloMsg) any
	foreign  *protocol.Packet

	mu       sync.Mutex
	hello    protocol.HelloMsg
	received []protocol.Packet
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var hello protocol.HelloMsg
		if err := conn.ReadJSON(&hello); err != nil {
			return
		}
		f.mu.Lock()
		f.hello = hello
		f.mu.Unlock()
		if err := conn.WriteJSON(f.reply(hello)); err != nil {
			return
		}

		sentForeign := false
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var bp protocol.BlockPlacedMsg
			if err := json.Unmarshal(msg, &bp); err != nil || bp.Type != protocol.TypeBlockPlaced {
				continue
			}
			f.mu.Lock()
			f.received = append(f.received, bp.Packet)
			f.mu.Unlock()

			echo := bp
			echo.PlayerID = f.playerID
			if err := conn.WriteJSON(echo); err != nil {
				return
			}
			if f.foreign != nil && !sentForeign {
				sentForeign = true
				other := protocol.NewBlockPlacedMsg(*f.foreign)
				other.PlayerID = f.playerID + 1
				if err := conn.WriteJSON(other); err != nil {
					return
				}
			}
		}
	}
}

func welcomeFor(playerID int32) func(protocol.HelloMsg) any {
	return func(protocol.HelloMsg) any {
		return protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			PlayerID:        playerID,
			Width:           8,
			Height:          8,
			Mappings:        map[string]uint32{"empty": 0, "basic_white": 1, "sign_normal": 6},
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_EndToEndAcknowledgement(t *testing.T) {
	fs := &fakeServer{
		playerID: 7,
		reply:    welcomeFor(7),
		foreign:  &protocol.Packet{BlockID: 1, Layer: protocol.Foreground, Positions: []protocol.Point{protocol.Pt(5, 5)}},
	}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := Dial(ctx, Config{URL: wsURL(srv), WorldID: "w1", Token: "secret"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	w := c.Welcome()
	if w.PlayerID != 7 || w.Width != 8 {
		t.Fatalf("welcome=%+v", w)
	}
	cats, err := catalogs.FromMappings(w.Mappings)
	if err != nil {
		t.Fatal(err)
	}
	m := mirror.New(cats, w.Width, w.Height)
	tr := bulk.NewTracker()
	go tr.Feed(ctx, c.Acks())
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, m) }()

	s, err := session.New(session.Config{
		Catalogs:   cats,
		Mirror:     m,
		Dispatcher: c,
		Tracker:    tr,
		Policy:     bulk.Policy{PollInterval: 5 * time.Millisecond, MaxStableStalls: 200},
	})
	if err != nil {
		t.Fatal(err)
	}

	white, _ := block.FromName(cats, "basic_white")
	sign, _ := block.With(cats, "sign_normal", "hello")
	intents := []placement.Intent{
		{Block: white, Layer: protocol.Foreground, Pos: protocol.Pt(0, 0)},
		{Block: white, Layer: protocol.Foreground, Pos: protocol.Pt(1, 0)},
		{Block: sign, Layer: protocol.Foreground, Pos: protocol.Pt(2, 0)},
	}
	ok, err := s.PlaceMany(ctx, intents)
	if err != nil || !ok {
		t.Fatalf("PlaceMany=%v,%v remaining=%d", ok, err, tr.Remaining())
	}

	deadline := time.Now().Add(3 * time.Second)
	for !m.BlockAt(protocol.Pt(5, 5), protocol.Foreground).Equals(white) {
		if time.Now().After(deadline) {
			t.Fatalf("foreign placement never reached the mirror")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fs.mu.Lock()
	hello := fs.hello
	got := len(fs.received)
	fs.mu.Unlock()
	if hello.WorldID != "w1" || hello.Token != "secret" || hello.ProtocolVersion != protocol.Version {
		t.Fatalf("hello=%+v", hello)
	}
	if got != 2 {
		t.Fatalf("server received %d packets", got)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}

func TestDial_ServerRefuses(t *testing.T) {
	fs := &fakeServer{reply: func(protocol.HelloMsg) any {
		return protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrWorldDenied, Message: "bad token"}
	}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	_, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	if err == nil || !strings.Contains(err.Error(), "bad token") {
		t.Fatalf("err=%v", err)
	}
}

func TestDial_VersionMismatch(t *testing.T) {
	fs := &fakeServer{reply: func(protocol.HelloMsg) any {
		return protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: "0.1"}
	}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	if _, err := Dial(context.Background(), Config{URL: wsURL(srv)}); err == nil {
		t.Fatalf("expected protocol version error")
	}
}

func TestDial_ConfiguredProtocolVersion(t *testing.T) {
	fs := &fakeServer{playerID: 3, reply: func(h protocol.HelloMsg) any {
		return protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: h.ProtocolVersion, PlayerID: 3, Width: 2, Height: 2}
	}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	c, err := Dial(context.Background(), Config{URL: wsURL(srv), ProtocolVersion: "0.9"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	fs.mu.Lock()
	sent := fs.hello.ProtocolVersion
	fs.mu.Unlock()
	if sent != "0.9" {
		t.Fatalf("hello version=%q", sent)
	}

	fs2 := &fakeServer{reply: welcomeFor(1)}
	srv2 := httptest.NewServer(fs2.handler(t))
	defer srv2.Close()
	if _, err := Dial(context.Background(), Config{URL: wsURL(srv2), ProtocolVersion: "0.9"}); err == nil {
		t.Fatalf("expected mismatch against server version %q", protocol.Version)
	}
}

func TestSendAfterClose(t *testing.T) {
	fs := &fakeServer{playerID: 1, reply: welcomeFor(1)}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	c, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err = c.SendPlacement(protocol.Packet{BlockID: 1, Positions: []protocol.Point{protocol.Pt(0, 0)}})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done not closed")
	}
}
