package live

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/recera/livecanvas/pkg/presence"
)

const (
	// DefaultPathPrefix is where rooms are served.
	DefaultPathPrefix = "/live/"

	defaultSendBuffer   = 256
	defaultPingInterval = 54 * time.Second
	defaultReadTimeout  = 5 * time.Minute
	writeTimeout        = 10 * time.Second

	// SessionHeader carries the client's session token.
	SessionHeader = "X-Livecanvas-Session"
)

// Server hosts presence rooms over websocket connections.
type Server struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	prefix       string
	sendBuffer   int
	pingInterval time.Duration
	readTimeout  time.Duration

	mu       sync.RWMutex
	rooms    map[string]*presence.Room
	sessions map[*Session]struct{}
	closed   bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithPathPrefix sets the path under which room names are read.
func WithPathPrefix(prefix string) ServerOption {
	return func(s *Server) { s.prefix = prefix }
}

// WithSendBuffer sets the per-connection outgoing queue length.
func WithSendBuffer(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithPingInterval sets how often idle connections are pinged.
func WithPingInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithReadTimeout sets how long a connection may stay silent, pongs included.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// NewServer creates a new hub.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Any origin may join; rooms carry no credentials.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		prefix:       DefaultPathPrefix,
		sendBuffer:   defaultSendBuffer,
		pingInterval: defaultPingInterval,
		readTimeout:  defaultReadTimeout,
		rooms:        make(map[string]*presence.Room),
		sessions:     make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "live")
	return s
}

// Handler returns a mux serving rooms under the path prefix and the room
// listing at /rooms.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.prefix, s.HandleWebSocket)
	mux.HandleFunc("/rooms", s.handleRooms)
	return mux
}

// RoomInfo describes an active room.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Rooms lists the active rooms ordered by name.
func (s *Server) Rooms() []RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RoomInfo, 0, len(s.rooms))
	for name, room := range s.rooms {
		out = append(out, RoomInfo{Name: name, Members: room.Len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Rooms()); err != nil {
		s.logger.Warn("failed to write room listing", "error", err)
	}
}

// HandleWebSocket handles WebSocket upgrade and joins the room named by the
// rest of the path.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, s.prefix), "/")
	if name == "" {
		http.Error(w, "room name required", http.StatusBadRequest)
		return
	}

	token := r.Header.Get(SessionHeader)
	if token == "" {
		token = r.URL.Query().Get("session")
	}
	if token == "" {
		token = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	room, member, err := s.join(name)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	session := &Session{
		ID:        token,
		server:    s,
		room:      room,
		member:    member,
		conn:      conn,
		sendChan:  make(chan []byte, s.sendBuffer),
		closeChan: make(chan struct{}),
		logger:    s.logger.With("session", token, "room", name, "connection", member.ID()),
	}
	s.register(session)

	go session.handleConnection()
}

var errServerClosed = errors.New("live: server closed")

// join adds a member to the named room, creating the room on first use.
func (s *Server) join(name string) (*presence.Room, *presence.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, errServerClosed
	}
	room, ok := s.rooms[name]
	if !ok {
		room = presence.NewRoom(name, s.logger)
		s.rooms[name] = room
		s.logger.Info("room created", "room", name)
	}
	return room, room.Join(), nil
}

func (s *Server) register(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session] = struct{}{}
	if s.closed {
		session.Close()
	}
}

// unregister drops the session and removes its room once empty.
func (s *Server) unregister(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
	name := session.room.Name()
	if room, ok := s.rooms[name]; ok && room == session.room && room.Len() == 0 {
		delete(s.rooms, name)
		s.logger.Info("room removed", "room", name)
	}
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close disconnects every session and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	return nil
}

// Session represents one websocket connection in a room.
type Session struct {
	ID string

	server *Server
	room   *presence.Room
	member *presence.Member
	conn   *websocket.Conn
	logger *slog.Logger

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

// Close ends the session. The writer says goodbye and closes the
// connection, which stops the reader.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
	})
}

// handleConnection manages the WebSocket connection for a session
func (s *Session) handleConnection() {
	var stops []func()
	defer func() {
		for _, stop := range stops {
			stop()
		}
		s.member.Leave()
		s.Close()
		s.server.unregister(s)
		s.logger.Info("session ended")
	}()

	go s.writer()

	// Hello goes out before any change frame.
	stops = append(stops, s.member.WatchFrom(func(others []presence.Presence) {
		s.enqueue(EncodeHello(Hello{Self: s.member.ID(), Records: others}))
	}, s.forwardChange))
	stops = append(stops, s.member.SubscribeReactions(func(r presence.Reaction) {
		s.enqueue(EncodeReaction(r))
	}))
	s.logger.Info("session started")

	s.conn.SetReadLimit(maxStringLen * 2)
	s.conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
		return nil
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("unexpected close", "error", err)
			} else {
				s.logger.Debug("read ended", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))

		if messageType != websocket.BinaryMessage {
			s.logger.Debug("ignoring non-binary message", "type", messageType)
			continue
		}
		s.handleBinaryMessage(data)
	}
}

func (s *Session) forwardChange(ch presence.Change) {
	switch ch.Kind {
	case presence.Left:
		s.enqueue(EncodeLeave(ch.Presence.ConnectionID))
	default:
		s.enqueue(EncodePresence(ch.Presence))
	}
}

// enqueue queues a frame without blocking. A client that cannot keep up is
// disconnected, since a dropped frame would leave its view stale.
func (s *Session) enqueue(data []byte) {
	select {
	case <-s.closeChan:
		return
	default:
	}
	select {
	case s.sendChan <- data:
	default:
		s.logger.Warn("send buffer full, disconnecting")
		go s.Close()
	}
}

// writer handles writing messages to the WebSocket
func (s *Session) writer() {
	ticker := time.NewTicker(s.server.pingInterval)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case message := <-s.sendChan:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				s.logger.Debug("failed to write message", "error", err)
				s.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.closeChan:
			s.conn.SetWriteDeadline(time.Now().Add(time.Second))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleBinaryMessage processes binary protocol messages
func (s *Session) handleBinaryMessage(data []byte) {
	frameType, err := FrameType(data)
	if err != nil {
		s.logger.Warn("bad frame", "error", err)
		s.sendControl(ControlError, err.Error())
		return
	}

	switch frameType {
	case FrameUpdate:
		from, u, err := DecodeUpdate(data)
		if err != nil {
			s.logger.Warn("failed to decode update", "error", err)
			s.sendControl(ControlError, err.Error())
			return
		}
		if err := s.room.Publish(s.member.ID(), from, u); err != nil {
			s.logger.Warn("update rejected", "target", from, "error", err)
			s.sendControl(ControlError, err.Error())
		}

	case FrameReaction:
		r, err := DecodeReaction(data)
		if err != nil {
			s.logger.Warn("failed to decode reaction", "error", err)
			s.sendControl(ControlError, err.Error())
			return
		}
		if err := s.room.Broadcast(s.member.ID(), r); err != nil {
			s.logger.Warn("reaction rejected", "from", r.From, "error", err)
			s.sendControl(ControlError, err.Error())
		}

	case FrameControl:
		c, err := DecodeControl(data)
		if err != nil {
			s.logger.Warn("failed to decode control message", "error", err)
			return
		}
		switch c.Kind {
		case ControlPing:
			s.sendControl(ControlPong, "")
		case ControlPong:
		default:
			s.logger.Debug("control message", "kind", c.Kind, "text", c.Text)
		}

	default:
		s.logger.Warn("unexpected frame from client", "frame", frameType)
		s.sendControl(ControlError, "unexpected "+frameType.String()+" frame")
	}
}

// sendControl sends a control message
func (s *Session) sendControl(kind, text string) {
	s.enqueue(EncodeControl(kind, text))
}
