// Package conn implements the Connection Manager: the transport state
// machine, the bounded send queue, the reconnect loop, and the single
// reader loop that decodes inbound frames and routes them by packetType.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"erebus/pubsub/internal/backoff"
	"erebus/pubsub/internal/codec"
	"erebus/pubsub/internal/grant"
	"erebus/pubsub/internal/heartbeat"
	"erebus/pubsub/internal/logging"
)

// State enumerates the Connection Manager's lifecycle states.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// sendQueueCapacity bounds the in-memory buffer used while the transport
// is not open. Overflow fails the initiating Send call.
const sendQueueCapacity = 1024

// ErrBackpressure is returned by Send when the bounded queue is full.
var ErrBackpressure = errors.New("conn: send queue full")

// ErrNotChannel is returned by Open when setChannel has not been called.
var ErrNotChannel = errors.New("conn: channel not set")

// Callbacks receive frames routed off the reader loop and lifecycle events.
// OnPublish, OnAck and OnPresence are invoked synchronously from the reader
// goroutine; implementations must not block. OnOpen runs on the goroutine
// that completed Open, and OnStateChange runs in a goroutine of its own.
type Callbacks struct {
	OnPublish  func(env *codec.Envelope)
	OnAck      func(env *codec.Envelope)
	OnPresence func(env *codec.Envelope)
	// OnOpen is invoked after every successful handshake, including
	// reconnects, so the caller can re-issue pending subscriptions.
	OnOpen func()
	// OnStateChange is invoked whenever the connection state transitions.
	OnStateChange func(State)
}

// Dialer abstracts websocket.DefaultDialer.DialContext for testing.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, *http.Response, error)
}

type defaultDialer struct{}

func (defaultDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.DialContext(ctx, urlStr, header)
}

// Manager drives one logical connection: grant acquisition, dialing,
// the reconnect loop, the bounded send queue, and frame routing.
type Manager struct {
	wsURL   string
	grants  *grant.Provider
	backoff *backoff.Policy
	dialer  Dialer
	log     *logging.Logger
	cb      Callbacks

	connectTimeout time.Duration

	mu        sync.Mutex
	channel   string
	state     State
	conn      *websocket.Conn
	queue     [][]byte
	attempt   int
	closing   bool
	reconnect *time.Timer
	beat      *heartbeat.Monitor
}

// Config bundles the dependencies Manager needs beyond wsURL.
type Config struct {
	WSUrl          string
	Grants         *grant.Provider
	Backoff        *backoff.Policy
	Dialer         Dialer
	Log            *logging.Logger
	ConnectTimeout time.Duration
	Heartbeat      time.Duration
	Callbacks      Callbacks
}

// New constructs a Manager in the idle state.
func New(cfg Config) *Manager {
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.New()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = defaultDialer{}
	}
	if cfg.Log == nil {
		cfg.Log = logging.L()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	m := &Manager{
		wsURL:          cfg.WSUrl,
		grants:         cfg.Grants,
		backoff:        cfg.Backoff,
		dialer:         cfg.Dialer,
		log:            cfg.Log,
		cb:             cfg.Callbacks,
		connectTimeout: cfg.ConnectTimeout,
		state:          Idle,
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = heartbeat.DefaultInterval
	}
	m.beat = heartbeat.New(cfg.Heartbeat, m.sendHeartbeat, m.onSilence)
	return m
}

// SetChannel binds the channel used for subsequent grant requests. It is
// idempotent: setting the same name twice is a no-op.
func (m *Manager) SetChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channel == name {
		return
	}
	m.channel = name
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open dials the transport. Valid only from idle, closed, or error.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Idle && m.state != Closed && m.state != Error {
		m.mu.Unlock()
		return fmt.Errorf("conn: cannot open from state %s", m.state)
	}
	channel := m.channel
	if channel == "" {
		m.mu.Unlock()
		return ErrNotChannel
	}
	m.closing = false
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	token, err := m.grants.Fetch(ctx, channel)
	if err != nil {
		m.transitionToErrorAndScheduleReconnect(err)
		return err
	}

	dialURL, err := withToken(m.wsURL, token)
	if err != nil {
		m.transitionToErrorAndScheduleReconnect(err)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	wsConn, _, err := m.dialer.DialContext(dialCtx, dialURL, nil)
	if err != nil {
		m.transitionToErrorAndScheduleReconnect(err)
		return err
	}

	m.mu.Lock()
	m.conn = wsConn
	m.attempt = 0
	m.setStateLocked(Open)
	pending := m.drainQueueLocked()
	m.mu.Unlock()

	for _, frame := range pending {
		if werr := m.writeFrame(frame); werr != nil {
			m.log.Warn("conn: failed to flush queued frame", logging.Error(werr))
		}
	}

	m.beat.Start()
	go m.readLoop(wsConn)

	if m.cb.OnOpen != nil {
		m.cb.OnOpen()
	}
	return nil
}

// Send encodes env and writes it if the transport is open, or enqueues it
// (bounded) otherwise.
func (m *Manager) Send(env *codec.Envelope) error {
	frame, err := codec.Encode(env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == Open {
		conn := m.conn
		m.mu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, frame)
	}
	if len(m.queue) >= sendQueueCapacity {
		m.mu.Unlock()
		return ErrBackpressure
	}
	m.queue = append(m.queue, frame)
	m.mu.Unlock()
	return nil
}

// Close transitions to closed, cancels any pending reconnect, and sends a
// close frame if the transport is currently open.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closing = true
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	conn := m.conn
	m.setStateLocked(Closing)
	m.mu.Unlock()

	m.beat.Stop()

	var err error
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = conn.Close()
	}

	m.mu.Lock()
	m.setStateLocked(Closed)
	m.mu.Unlock()
	return err
}

func (m *Manager) readLoop(wsConn *websocket.Conn) {
	for {
		messageType, data, err := wsConn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			closing := m.closing
			m.mu.Unlock()
			if !closing {
				m.transitionToErrorAndScheduleReconnect(err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		m.beat.ObserveTraffic()

		env := codec.Decode(data)
		if env == nil {
			continue
		}
		switch env.Type {
		case codec.PacketPublish:
			if m.cb.OnPublish != nil {
				m.cb.OnPublish(env)
			}
		case codec.PacketAck:
			if m.cb.OnAck != nil {
				m.cb.OnAck(env)
			}
		case codec.PacketPresence:
			if m.cb.OnPresence != nil {
				m.cb.OnPresence(env)
			}
		case codec.PacketHeartbeat:
			// Traffic observation above already reset the silence timer.
		}
	}
}

func (m *Manager) sendHeartbeat() {
	_ = m.Send(&codec.Envelope{Type: codec.PacketHeartbeat})
}

func (m *Manager) onSilence() {
	m.log.Warn("conn: no inbound traffic observed, treating connection as silently failed")
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) transitionToErrorAndScheduleReconnect(cause error) {
	m.log.Warn("conn: transport failure", logging.Error(cause))
	m.mu.Lock()
	if m.closing {
		m.setStateLocked(Closed)
		m.mu.Unlock()
		return
	}
	m.setStateLocked(Error)
	attempt := m.attempt
	m.attempt++
	delay := m.backoff.Delay(attempt)
	m.reconnect = time.AfterFunc(delay, func() {
		_ = m.Open(context.Background())
	})
	m.mu.Unlock()
}

func (m *Manager) drainQueueLocked() [][]byte {
	pending := m.queue
	m.queue = nil
	return pending
}

func (m *Manager) writeFrame(frame []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.New("conn: no active connection")
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	if m.cb.OnStateChange != nil {
		cb := m.cb.OnStateChange
		go cb(s)
	}
}

func withToken(wsURL, token string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("conn: invalid wsUrl: %w", err)
	}
	q := u.Query()
	q.Set("grant", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
