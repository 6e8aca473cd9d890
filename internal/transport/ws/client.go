// Package ws is the websocket transport between a session and the world
// server: it dispatches placement packets and turns the server's echoes into
// acknowledgement counts and authoritative mirror updates.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tilecraft.ai/internal/mirror"
	"tilecraft.ai/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	handshakeWait  = 5 * time.Second
	maxMessageSize = 1 << 20
)

var ErrClosed = errors.New("ws: connection closed")

type Config struct {
	URL     string
	WorldID string
	Token   string
	// ProtocolVersion is sent in HELLO and stamped on outgoing messages; the
	// server must answer with the same version. Empty means protocol.Version.
	ProtocolVersion string

	OutQueue int
	Logger   *log.Logger
	Dialer   *websocket.Dialer
}

type Client struct {
	conn    *websocket.Conn
	log     *log.Logger
	welcome protocol.WelcomeMsg
	version string

	out  chan []byte
	acks chan int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	errMu sync.Mutex
	err   error
}

// Dial connects, sends HELLO and waits for WELCOME. The writer goroutine is
// running when Dial returns, so packets can be sent before Run starts.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.OutQueue <= 0 {
		cfg.OutQueue = 256
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = protocol.Version
	}
	d := cfg.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	welcome, err := handshake(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		log:     cfg.Logger,
		welcome: welcome,
		version: cfg.ProtocolVersion,
		out:     make(chan []byte, cfg.OutQueue),
		acks:    make(chan int, cfg.OutQueue),
		ctx:     cctx,
		cancel:  cancel,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writePump()
	}()
	return c, nil
}

func handshake(conn *websocket.Conn, cfg Config) (protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: cfg.ProtocolVersion,
		WorldID:         cfg.WorldID,
		Token:           cfg.Token,
	}
	if err := writeJSON(conn, hello); err != nil {
		return w, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return w, fmt.Errorf("read WELCOME: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return w, fmt.Errorf("read WELCOME: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		return w, fmt.Errorf("server refused join: %s %s", e.Code, e.Message)
	default:
		return w, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}
	if err := json.Unmarshal(msg, &w); err != nil {
		return w, fmt.Errorf("decode WELCOME: %w", err)
	}
	if w.ProtocolVersion != cfg.ProtocolVersion {
		return w, fmt.Errorf("server protocol_version %q, want %q", w.ProtocolVersion, cfg.ProtocolVersion)
	}
	if w.Width < 0 || w.Height < 0 {
		return w, fmt.Errorf("bad world size %dx%d", w.Width, w.Height)
	}
	return w, nil
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }

// Acks yields the number of positions the server applied for each of our own
// placement echoes. Feed it to bulk.Tracker.Feed; Run blocks while it is full.
func (c *Client) Acks() <-chan int { return c.acks }

// Done is closed once the connection is shut down.
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

// Err reports why the connection stopped, if it did.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.cancel()
}

func (c *Client) SendPlacement(p protocol.Packet) error {
	m := protocol.NewBlockPlacedMsg(p)
	m.ProtocolVersion = c.version
	return c.send(m)
}

func (c *Client) SendFill(p protocol.FillPacket) error {
	m := protocol.NewBlockFilledMsg(p)
	m.ProtocolVersion = c.version
	return c.send(m)
}

func (c *Client) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Run reads server messages until ctx is cancelled or the connection drops.
// Echoes of our own placements become acknowledgements; everyone else's are
// applied to m.
func (c *Client) Run(ctx context.Context, m *mirror.World) error {
	stop := context.AfterFunc(ctx, func() { c.fail(ctx.Err()) })
	defer stop()
	go func() {
		<-c.ctx.Done()
		// Unblock ReadMessage.
		_ = c.conn.SetReadDeadline(time.Now())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Printf("read: %v", err)
				}
				c.fail(err)
			}
			return c.Err()
		}
		if c.ctx.Err() != nil {
			return c.Err()
		}
		c.handle(msg, m)
	}
}

func (c *Client) handle(msg []byte, m *mirror.World) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		c.log.Printf("bad message: %v", err)
		return
	}
	switch base.Type {
	case protocol.TypeBlockPlaced:
		var bp protocol.BlockPlacedMsg
		if err := json.Unmarshal(msg, &bp); err != nil {
			c.log.Printf("BLOCK_PLACED: %v", err)
			return
		}
		if bp.PlayerID == c.welcome.PlayerID {
			// Already applied optimistically when sent.
			select {
			case c.acks <- len(bp.Positions):
			case <-c.ctx.Done():
			}
			return
		}
		if m == nil {
			return
		}
		if err := m.ApplyPacket(bp.Packet); err != nil {
			c.log.Printf("apply BLOCK_PLACED from player %d: %v", bp.PlayerID, err)
		}
	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return
		}
		c.log.Printf("server error %s: %s", e.Code, e.Message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.fail(fmt.Errorf("write: %w", err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// Close stops both pumps and closes the socket. Queued packets that were not
// written yet are discarded.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
