package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/recera/livecanvas/pkg/presence"
)

// DialOptions configures a client connection.
type DialOptions struct {
	// SessionID identifies the client in hub logs. Generated when empty.
	SessionID string

	// SendBuffer is the outgoing queue length.
	SendBuffer int

	Logger *slog.Logger
	Dialer *websocket.Dialer
}

// Client is a hub connection. It implements presence.Channel,
// presence.Broadcaster and presence.ErrorReporter.
type Client struct {
	SessionID string

	conn   *websocket.Conn
	logger *slog.Logger

	mu           sync.RWMutex
	self         presence.Presence
	others       map[presence.ConnectionID]presence.Presence
	nextSub      int
	othersSubs   map[int]func([]presence.Presence)
	reactionSubs map[int]func(presence.Reaction)

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	errs      chan error
	wg        sync.WaitGroup
}

var (
	_ presence.Channel       = (*Client)(nil)
	_ presence.Broadcaster   = (*Client)(nil)
	_ presence.ErrorReporter = (*Client)(nil)
)

// Dial connects to a room URL such as ws://host:port/live/lobby and waits
// for the hub's hello.
func Dial(ctx context.Context, url string, opts DialOptions) (*Client, error) {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set(SessionHeader, opts.SessionID)

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello, err := readHello(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		SessionID:    opts.SessionID,
		conn:         conn,
		logger:       opts.Logger.With("component", "live-client", "session", opts.SessionID, "connection", hello.Self),
		self:         presence.Presence{ConnectionID: hello.Self},
		others:       make(map[presence.ConnectionID]presence.Presence, len(hello.Records)),
		othersSubs:   make(map[int]func([]presence.Presence)),
		reactionSubs: make(map[int]func(presence.Reaction)),
		sendChan:     make(chan []byte, opts.SendBuffer),
		closeChan:    make(chan struct{}),
		errs:         make(chan error, 16),
	}
	for _, p := range hello.Records {
		if p.ConnectionID != hello.Self {
			c.others[p.ConnectionID] = p
		}
	}

	c.wg.Add(2)
	go c.reader()
	go c.writer()
	c.logger.Debug("connected", "others", len(c.others))
	return c, nil
}

func readHello(ctx context.Context, conn *websocket.Conn) (Hello, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(writeTimeout))
	}
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return Hello{}, fmt.Errorf("read hello: %w", err)
	}
	return DecodeHello(data)
}

// ID returns the connection id assigned by the hub.
func (c *Client) ID() presence.ConnectionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self.ConnectionID
}

// Self implements presence.Channel.
func (c *Client) Self() presence.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self.Clone()
}

// Others returns the records of the other participants ordered by id.
func (c *Client) Others() []presence.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.othersLocked()
}

func (c *Client) othersLocked() []presence.Presence {
	out := make([]presence.Presence, 0, len(c.others))
	for _, p := range c.others {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// Update implements presence.Channel. The local record changes immediately;
// delivery failures are reported on Errors.
func (c *Client) Update(u presence.Update) {
	if u.Empty() {
		return
	}
	c.mu.Lock()
	c.self = u.Apply(c.self)
	id := c.self.ConnectionID
	c.mu.Unlock()

	c.send(EncodeUpdate(id, u))
}

// SubscribeOthers implements presence.Channel.
func (c *Client) SubscribeOthers(fn func([]presence.Presence)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.othersSubs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.othersSubs, id)
		c.mu.Unlock()
	}
}

// BroadcastReaction implements presence.Broadcaster.
func (c *Client) BroadcastReaction(r presence.Reaction) {
	r.From = c.ID()
	c.send(EncodeReaction(r))
}

// SubscribeReactions implements presence.Broadcaster.
func (c *Client) SubscribeReactions(fn func(presence.Reaction)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.reactionSubs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.reactionSubs, id)
		c.mu.Unlock()
	}
}

// Errors implements presence.ErrorReporter.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Ping asks the hub for a PONG.
func (c *Client) Ping() {
	c.send(EncodeControl(ControlPing, ""))
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.closeChan
}

// Close closes the connection and waits for the goroutines to exit.
func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
	})
}

func (c *Client) send(data []byte) {
	select {
	case <-c.closeChan:
		c.report(ErrClosed)
		return
	default:
	}
	select {
	case c.sendChan <- data:
	default:
		c.report(ErrSendBufferFull)
	}
}

func (c *Client) report(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("dropping error", "error", err)
	}
}

func (c *Client) writer() {
	defer c.wg.Done()
	defer c.conn.Close()

	for {
		select {
		case message := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.report(fmt.Errorf("write: %w", err))
				c.shutdown()
				return
			}

		case <-c.closeChan:
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) reader() {
	defer c.wg.Done()
	defer c.shutdown()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeChan:
			default:
				c.report(fmt.Errorf("read: %w", err))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := c.handleFrame(data); err != nil {
			c.logger.Warn("bad frame from hub", "error", err)
			c.report(err)
		}
	}
}

// handleFrame applies one hub frame. It runs on the reader goroutine only,
// so subscribers see changes in arrival order.
func (c *Client) handleFrame(data []byte) error {
	t, err := FrameType(data)
	if err != nil {
		return err
	}

	switch t {
	case FramePresence:
		p, err := DecodePresence(data)
		if err != nil {
			return err
		}
		if p.ConnectionID == c.ID() {
			return nil
		}
		c.mu.Lock()
		c.others[p.ConnectionID] = p
		c.mu.Unlock()
		c.notifyOthers()

	case FrameLeave:
		id, err := DecodeLeave(data)
		if err != nil {
			return err
		}
		c.mu.Lock()
		delete(c.others, id)
		c.mu.Unlock()
		c.notifyOthers()

	case FrameReaction:
		r, err := DecodeReaction(data)
		if err != nil {
			return err
		}
		for _, fn := range c.reactionHandlers() {
			fn(r)
		}

	case FrameControl:
		ctl, err := DecodeControl(data)
		if err != nil {
			return err
		}
		switch ctl.Kind {
		case ControlError:
			c.report(fmt.Errorf("%w: %s", ErrRejected, ctl.Text))
		case ControlPing:
			c.send(EncodeControl(ControlPong, ""))
		}

	case FrameHello:
		// Only expected once, during Dial.

	default:
		return fmt.Errorf("%w: %s", ErrUnknownFrame, t)
	}
	return nil
}

func (c *Client) notifyOthers() {
	c.mu.RLock()
	fns := make([]func([]presence.Presence), 0, len(c.othersSubs))
	for _, fn := range c.othersSubs {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(c.Others())
	}
}

func (c *Client) reactionHandlers() []func(presence.Reaction) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]func(presence.Reaction), 0, len(c.reactionSubs))
	for _, fn := range c.reactionSubs {
		out = append(out, fn)
	}
	return out
}
