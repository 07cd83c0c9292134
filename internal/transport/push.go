package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/relay-core/internal/device"
	"github.com/nerrad567/relay-core/internal/infrastructure/config"
)

const (
	// PushTransportName is the device.Transport name of push sessions.
	PushTransportName = "push"

	sessionSendBufferSize = 64
	identifyTimeout       = 10 * time.Second
)

var (
	// ErrSessionClosed is returned by Send after the session ended.
	ErrSessionClosed = errors.New("transport: session closed")

	// ErrSendBufferFull is returned by Send when the board is not reading.
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// Push serves the device WebSocket endpoint.
type Push struct {
	handler      *Handler
	registry     Registry
	logger       Logger
	upgrader     websocket.Upgrader
	maxMessage   int64
	pingInterval time.Duration
	pongWait     time.Duration

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewPush creates the push endpoint.
func NewPush(handler *Handler, registry Registry, cfg config.WebSocketConfig) *Push {
	return &Push{
		handler:  handler,
		registry: registry,
		logger:   noopLogger{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		maxMessage:   int64(cfg.MaxMessageSize),
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:     time.Duration(cfg.PongTimeout) * time.Second,
		sessions:     make(map[*session]struct{}),
	}
}

// SetLogger sets the logger for the push endpoint.
func (p *Push) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// SessionCount returns the number of open sessions.
func (p *Push) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close ends every open session.
func (p *Push) Close() {
	p.mu.Lock()
	sessions := make([]*session, 0, len(p.sessions))
	for s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// ServeHTTP upgrades the request and runs the session until it closes.
func (p *Push) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("device websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := &session{
		conn: conn,
		send: make(chan []byte, sessionSendBufferSize),
		done: make(chan struct{}),
	}
	p.track(s, true)
	defer p.track(s, false)
	defer s.close()

	ctx := r.Context()
	if p.maxMessage > 0 {
		conn.SetReadLimit(p.maxMessage)
	}

	deviceID, ok := p.identify(ctx, s)
	if !ok {
		return
	}
	defer p.registry.Detach(context.WithoutCancel(ctx), deviceID, s)

	go s.writePump(p.pingInterval, p.pongWait)
	p.readPump(ctx, s, deviceID)
}

// identify reads the first frame, which must be an identify message. Frames
// are written directly here because the write pump has not started, so the
// ack always precedes any command flushed during Identify.
func (p *Push) identify(ctx context.Context, s *session) (string, bool) {
	//nolint:errcheck // Best-effort deadline; read error caught below
	s.conn.SetReadDeadline(time.Now().Add(identifyTimeout))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		p.logger.Debug("device closed before identifying", "error", err)
		return "", false
	}

	msg, err := Decode(data)
	if err != nil {
		p.reject(s, err.Error())
		return "", false
	}
	ident, ok := msg.(Identify)
	if !ok {
		p.reject(s, "first message must be identify")
		return "", false
	}

	dev, err := p.handler.Identify(ctx, ident, s)
	if err != nil {
		p.logger.Warn("device identify rejected", "mac", ident.MAC, "error", err)
		p.reject(s, err.Error())
		return "", false
	}

	if err := s.writeJSON(identifyAck{Type: TypeIdentifyAck, DeviceID: dev.ID}); err != nil {
		p.registry.Detach(context.WithoutCancel(ctx), dev.ID, s)
		return "", false
	}
	return dev.ID, true
}

func (p *Push) reject(s *session, reason string) {
	//nolint:errcheck // Best-effort reject frame before close
	s.writeJSON(identifyReject{Type: TypeIdentifyReject, Reason: reason})
}

func (p *Push) readPump(ctx context.Context, s *session, deviceID string) {
	deadline := p.pingInterval + p.pongWait
	extend := func() {
		if deadline > 0 {
			//nolint:errcheck // Best-effort deadline reset
			s.conn.SetReadDeadline(time.Now().Add(deadline))
		}
	}
	if deadline > 0 {
		extend()
	} else {
		//nolint:errcheck // Clear the identify deadline
		s.conn.SetReadDeadline(time.Time{})
	}
	s.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Warn("device websocket read error", "device_id", deviceID, "error", err)
			} else {
				p.logger.Debug("device websocket closed", "device_id", deviceID, "error", err)
			}
			return
		}
		extend()

		msg, err := Decode(data)
		if err != nil {
			p.logger.Warn("device message rejected", "device_id", deviceID, "error", err)
			continue
		}
		if err := p.handler.Handle(ctx, deviceID, msg); err != nil {
			p.logger.Warn("device message failed", "device_id", deviceID, "type", msg.Type(), "error", err)
		}
	}
}

func (p *Push) track(s *session, open bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if open {
		p.sessions[s] = struct{}{}
	} else {
		delete(p.sessions, s)
	}
}

// session is one board connection. It is the device.Transport handed to
// the registry.
type session struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) Name() string { return PushTransportName }

// Send queues a command frame for the write pump.
func (s *session) Send(ctx context.Context, cmd device.PushCommand) error {
	data, err := json.Marshal(newCommandFrame(cmd))
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrSendBufferFull
	}
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	//nolint:errcheck // Best-effort deadline; write error returned below
	s.conn.SetWriteDeadline(time.Now().Add(identifyTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) writePump(pingInterval, pongWait time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	writeWait := pongWait
	if writeWait <= 0 {
		writeWait = identifyTimeout
	}
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-tick:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
