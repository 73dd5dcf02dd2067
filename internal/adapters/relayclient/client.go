// Package relayclient speaks the relay's websocket protocol on behalf of one
// call session.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

var (
	ErrClosed      = errors.New("relay client closed")
	errNotJoined   = errors.New("not in a room")
	errJoinPending = errors.New("join already in progress")
)

type Config struct {
	URL             string
	SendBuffer      int
	WriteTimeout    time.Duration
	PingPeriod      time.Duration
	ReadLimit       int64
	ReconnectWindow time.Duration
	JoinTimeout     time.Duration
}

func (c *Config) withDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 15 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.ReconnectWindow <= 0 {
		c.ReconnectWindow = 10 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
}

type outFrame struct {
	data []byte
	done chan error
}

// link is one websocket connection. A reconnect replaces it.
type link struct {
	conn   *websocket.Conn
	send   chan outFrame
	cancel context.CancelFunc
	once   sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		l.cancel()
		_ = l.conn.Close()
	})
}

// Client implements core.SignalTransport over gorilla/websocket.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	connected *atomic.Bool
	closed    *atomic.Bool

	mu      sync.Mutex
	token   string
	role    domain.Role
	room    domain.RoomID
	booking domain.BookingID
	link    *link
	joinAck chan domain.Frame
	subs    map[int]func(core.RelayEvent)
	nextSub int
}

var _ core.SignalTransport = (*Client)(nil)

func New(cfg Config) *Client {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:       log.With().Str("module", "relayclient").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		connected: atomic.NewBool(false),
		closed:    atomic.NewBool(false),
		subs:      make(map[int]func(core.RelayEvent)),
	}
}

func (c *Client) Connect(ctx context.Context, authToken string, role domain.Role) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := domain.ValidateToken(authToken); err != nil {
		return err
	}
	if !role.Valid() {
		return domain.ErrUnknownRole
	}
	c.mu.Lock()
	c.token, c.role = authToken, role
	c.log = c.log.With().Str("role", role.String()).Logger()
	c.mu.Unlock()
	if err := c.dial(ctx); err != nil {
		return err
	}
	c.connected.Store(true)
	return nil
}

func (c *Client) endpoint() (string, http.Header, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", nil, fmt.Errorf("relay url: %w", err)
	}
	c.mu.Lock()
	token, role := c.token, c.role
	c.mu.Unlock()
	q := u.Query()
	q.Set("token", token)
	q.Set("role", role.String())
	u.RawQuery = q.Encode()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return u.String(), h, nil
}

func (c *Client) dial(ctx context.Context) error {
	addr, header, err := c.endpoint()
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, addr, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	lctx, cancel := context.WithCancel(c.ctx)
	l := &link{conn: conn, send: make(chan outFrame, c.cfg.SendBuffer), cancel: cancel}
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		l.close()
		return ErrClosed
	}
	c.link = l
	c.mu.Unlock()

	go c.writePump(lctx, l)
	go c.readPump(l)
	c.log.Info().Str("url", c.cfg.URL).Msg("relay connected")
	return nil
}

// Join asks the relay for a seat in room and waits for the verdict. Peers
// already present are reported as peer_joined events before Join returns.
func (c *Client) Join(ctx context.Context, room domain.RoomID, booking domain.BookingID) error {
	c.mu.Lock()
	c.room, c.booking = room, booking
	c.mu.Unlock()
	return c.join(ctx)
}

func (c *Client) join(ctx context.Context) error {
	c.mu.Lock()
	if c.joinAck != nil {
		c.mu.Unlock()
		return errJoinPending
	}
	ack := make(chan domain.Frame, 1)
	c.joinAck = ack
	room, booking := c.room, c.booking
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.joinAck = nil
		c.mu.Unlock()
	}()

	if err := c.push(domain.Frame{Event: domain.EventJoin, RoomID: room, BookingID: booking}, nil); err != nil {
		return err
	}
	select {
	case f := <-ack:
		switch f.Event {
		case domain.EventJoined:
			c.log.Info().Str("room", string(room)).Int("peers", len(f.Peers)).Msg("joined room")
			return nil
		case domain.EventRoomFull:
			return fmt.Errorf("%w: %s", domain.ErrRoomFull, room)
		default:
			return fmt.Errorf("%w: %s", domain.ErrJoinRejected, f.Error)
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Client) Send(msg domain.SignalMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.enqueue(domain.SignalFrame(msg), nil)
}

func (c *Client) enqueue(f domain.Frame, done chan error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.connected.Load() {
		return domain.ErrNotConnected
	}
	return c.push(f, done)
}

// push queues f on the current link whether or not the room is joined yet.
func (c *Client) push(f domain.Frame, done chan error) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return domain.ErrNotConnected
	}
	select {
	case l.send <- outFrame{data: data, done: done}:
		return nil
	default:
		return domain.ErrBackpressure
	}
}

func (c *Client) Subscribe(fn func(core.RelayEvent)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Leave sends leaveVideoCall and waits until it is written or ctx ends.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	room := c.room
	c.room, c.booking = "", ""
	c.mu.Unlock()
	if room == "" {
		return errNotJoined
	}
	done := make(chan error, 1)
	if err := c.enqueue(domain.Frame{Event: domain.EventLeave, RoomID: room}, done); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.connected.Store(false)
	c.cancel()
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l != nil {
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		l.close()
	}
	c.log.Info().Msg("relay client closed")
	return nil
}

// Connected reports whether the relay link is currently up.
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) emit(ev core.RelayEvent) {
	c.mu.Lock()
	fns := make([]func(core.RelayEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) handleFrame(f domain.Frame) {
	c.mu.Lock()
	self := c.role
	ack := c.joinAck
	c.mu.Unlock()

	switch f.Event {
	case domain.EventSignal:
		if f.SenderRole == self {
			return
		}
		msg, err := f.Signal()
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping bad signal")
			return
		}
		c.emit(core.RelayEvent{Kind: core.RelaySignal, Signal: msg, Role: msg.SenderRole})
	case domain.EventJoined:
		for _, r := range f.Peers {
			if r != self {
				c.emit(core.RelayEvent{Kind: core.RelayPeerJoined, Role: r})
			}
		}
		c.ack(ack, f)
	case domain.EventRoomFull, domain.EventError:
		if ack != nil {
			c.ack(ack, f)
			return
		}
		c.log.Warn().Str("event", f.Event).Str("error", f.Error).Msg("relay error")
	case domain.EventPeerJoin:
		if f.SenderRole != self {
			c.emit(core.RelayEvent{Kind: core.RelayPeerJoined, Role: f.SenderRole})
		}
	case domain.EventPeerLeft:
		if f.SenderRole != self {
			c.emit(core.RelayEvent{Kind: core.RelayPeerLeft, Role: f.SenderRole})
		}
	case domain.EventPong:
	default:
		c.log.Debug().Str("event", f.Event).Msg("unknown frame")
	}
}

func (c *Client) ack(ch chan domain.Frame, f domain.Frame) {
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	default:
	}
}

// lost runs when the read side of l fails. Unless the client is closing it
// reports the loss and redials in the background.
func (c *Client) lost(l *link, err error) {
	l.close()
	c.mu.Lock()
	current := c.link == l
	if current {
		c.link = nil
	}
	c.mu.Unlock()
	if !current || c.closed.Load() {
		return
	}
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("relay link lost")
	c.emit(core.RelayEvent{Kind: core.RelayLost, Err: err})
	go c.reconnect()
}

func (c *Client) reconnect() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = c.cfg.ReconnectWindow

	op := func() error {
		if c.closed.Load() || c.connected.Load() {
			return nil
		}
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.JoinTimeout)
		defer cancel()
		if err := c.dial(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		room := c.room
		c.mu.Unlock()
		if room != "" {
			if err := c.join(ctx); err != nil {
				c.mu.Lock()
				l := c.link
				c.link = nil
				c.mu.Unlock()
				if l != nil {
					l.close()
				}
				return err
			}
		}
		c.connected.Store(true)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Dur("retry_in", wait).Msg("relay redial failed")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, c.ctx), notify); err != nil {
		c.log.Error().Err(err).Dur("window", c.cfg.ReconnectWindow).Msg("relay not restored")
		return
	}
	if c.closed.Load() {
		return
	}
	c.log.Info().Msg("relay link restored")
	c.emit(core.RelayEvent{Kind: core.RelayRestored})
}
