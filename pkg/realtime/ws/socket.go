package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
)

// Message is the JSON text frame exchanged on a socket.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Request is what Emit sends. Body is required.
type Request struct {
	Auth any `json:"auth,omitempty"`
	Body any `json:"body"`
}

// Response is what listeners receive.
type Response struct {
	Body json.RawMessage `json:"body"`
}

// Handler receives responses of the socket's event.
type Handler func(Response)

// Option customizes a Socket.
type Option func(*Socket)

// OnConnect registers fn to run after each successful Open.
func OnConnect(fn func()) Option {
	return func(s *Socket) { s.onConnect = fn }
}

// OnDisconnect registers fn to run when the connection ends.
func OnDisconnect(fn func()) Option {
	return func(s *Socket) { s.onDisconnect = fn }
}

// WithConfig overrides the connection settings.
func WithConfig(cfg Config) Option {
	return func(s *Socket) { s.cfg = cfg }
}

// WithHeader adds handshake headers, e.g. application credentials.
func WithHeader(h http.Header) Option {
	return func(s *Socket) { s.header = h.Clone() }
}

// WithLogger sets the socket logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Socket) { s.log = logger.OrNop(l) }
}

// Socket is a realtime event channel bound to one event name.
type Socket struct {
	url          string
	event        string
	cfg          Config
	header       http.Header
	log          logger.Logger
	onConnect    func()
	onDisconnect func()

	mu       sync.Mutex
	conn     *Conn
	stop     context.CancelFunc
	done     chan struct{}
	handlers []Handler
}

// NewSocket returns a closed socket for event at url.
func NewSocket(url, event string, opts ...Option) *Socket {
	s := &Socket{
		url:   url,
		event: event,
		cfg:   DefaultConfig(),
		log:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("event", event)
	return s
}

// Event returns the event name the socket emits and listens on.
func (s *Socket) Event() string { return s.event }

// Connected reports whether the socket has a live connection.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Open connects the socket. Opening a connected socket is a no-op.
func (s *Socket) Open(ctx context.Context) (err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentRealtime, "open", s.event)
	defer func() { tracing.End(span, err) }()

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	conn, err := Dial(ctx, s.url, s.header, s.cfg)
	if err != nil {
		s.mu.Unlock()
		return apperr.Network(err, "open realtime socket")
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopKeepalive := conn.StartKeepalive(loopCtx, s.cfg.KeepaliveInterval, func(err error) {
		s.log.Warn("closing silent realtime socket", "url", s.url, "error", err)
	})
	s.conn = conn
	s.stop = func() {
		stopKeepalive()
		cancel()
	}
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.readLoop(conn, done)
	s.log.Debug("realtime socket connected", "url", s.url)
	if s.onConnect != nil {
		s.onConnect()
	}
	return nil
}

// Close disconnects the socket and waits for its reader to stop.
// Closing a closed socket is a no-op.
func (s *Socket) Close() error {
	s.mu.Lock()
	conn, stop, done := s.conn, s.stop, s.done
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	stop()
	_ = conn.WriteFrame(OpClose, nil)
	err := conn.Close()
	<-done
	return err
}

// Emit sends req as the socket's event.
func (s *Socket) Emit(req Request) error {
	if req.Body == nil {
		return apperr.Validation("emit requires a request with a body")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return apperr.Validation("emit payload is not serializable: %v", err)
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return apperr.Network(errors.New("socket is closed"), "emit "+s.event)
	}
	if err := conn.WriteJSON(Message{Event: s.event, Payload: payload}); err != nil {
		return apperr.Network(err, "emit "+s.event)
	}
	return nil
}

// Listen registers handler for responses of the socket's event.
func (s *Socket) Listen(handler Handler) error {
	if handler == nil {
		return apperr.Validation("listen requires a handler")
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
	return nil
}

func (s *Socket) readLoop(conn *Conn, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.stop()
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
		close(done)
		s.log.Debug("realtime socket disconnected")
		if s.onDisconnect != nil {
			s.onDisconnect()
		}
	}()

	for {
		opcode, payload, err := conn.ReadFrame()
		if err != nil {
			return
		}
		switch opcode {
		case OpClose:
			_ = conn.WriteFrame(OpClose, nil)
			return
		case OpPing:
			_ = conn.WriteFrame(OpPong, payload)
		case OpText:
			s.dispatch(payload)
		}
	}
}

func (s *Socket) dispatch(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Warn("dropping malformed realtime message", "error", err)
		return
	}
	if msg.Event != s.event {
		return
	}
	var resp Response
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			s.log.Warn("dropping malformed realtime payload", "error", err)
			return
		}
	}

	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(resp)
	}
}
