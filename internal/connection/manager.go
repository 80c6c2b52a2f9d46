// Package connection implements the actor-model connection manager (C1): a
// single tagged update queue drained by one update processor that is the
// sole mutator of the connection table, and a single message queue drained
// by one message processor that invokes the adapter's on_message callback.
// Grounded on the Python source's WebSocketManager and dressed in the
// teacher's idiomatic Go shape (zap, gorilla/websocket, prometheus).
package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type updateKind int

const (
	updateAdd updateKind = iota
	updateRemove
	updateReconnect
	updateSend
)

type update struct {
	kind         updateKind
	connectionID string
	uri          string
	payload      []byte
	done         chan error
}

type connEntry struct {
	conn      *websocket.Conn
	uri       string
	connectedAt time.Time
	cancel    context.CancelFunc
}

type message struct {
	connectionID string
	raw          []byte
}

// Config wires a Manager's dependencies. One Manager is created per venue
// adapter; Venue labels the Prometheus metrics this instance emits.
type Config struct {
	Venue        string
	Logger       *zap.Logger
	DialTimeout  time.Duration
	Reconnect    ReconnectConfig
	QueueSize    int
	OnMessage    func(connectionID string, raw []byte)
	OnReconnect  func(connectionID string)
}

// Manager owns a named set of upstream WebSocket connections for one venue.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*connEntry

	backoffs   sync.Map // connectionID -> *backoffState
	connLocks  sync.Map // connectionID -> *sync.Mutex

	updateQueue chan *update
	messageQueue chan message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Manager. Call Start before Add.
func New(cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:          cfg,
		logger:       cfg.Logger,
		dialer:       &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		conns:        make(map[string]*connEntry),
		updateQueue:  make(chan *update, cfg.QueueSize),
		messageQueue: make(chan message, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the update processor and message processor goroutines.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.updateProcessor()
	go m.messageProcessor()
}

// Close stops every goroutine the manager owns and closes all live sockets.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	for id, entry := range m.conns {
		entry.cancel()
		_ = entry.conn.Close()
		delete(m.conns, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *Manager) connLock(connectionID string) *sync.Mutex {
	v, _ := m.connLocks.LoadOrStore(connectionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (m *Manager) backoffFor(connectionID string) *backoffState {
	v, _ := m.backoffs.LoadOrStore(connectionID, newBackoffState(m.cfg.Reconnect))
	return v.(*backoffState)
}

func marketOf(connectionID string) string {
	if i := strings.IndexByte(connectionID, ':'); i >= 0 {
		return connectionID[:i]
	}
	return connectionID
}

// submitAndWait enqueues u and blocks for its result, honoring ctx.
func (m *Manager) submitAndWait(ctx context.Context, u *update) error {
	lock := m.connLock(u.connectionID)
	lock.Lock()
	defer lock.Unlock()

	select {
	case m.updateQueue <- u:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return fmt.Errorf("connection: manager closed")
	}

	select {
	case err := <-u.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submitAsync enqueues u without waiting for its outcome, used for
// internally-triggered reconnects where no caller is blocked on the result.
func (m *Manager) submitAsync(u *update) {
	lock := m.connLock(u.connectionID)
	lock.Lock()
	defer lock.Unlock()

	select {
	case m.updateQueue <- u:
	case <-m.ctx.Done():
	}
}

// Add dials uri and registers it under connectionID.
func (m *Manager) Add(ctx context.Context, connectionID, uri string) error {
	return m.submitAndWait(ctx, &update{kind: updateAdd, connectionID: connectionID, uri: uri, done: make(chan error, 1)})
}

// Remove tears down the named connection. A missing connectionID is a no-op.
func (m *Manager) Remove(ctx context.Context, connectionID string) error {
	return m.submitAndWait(ctx, &update{kind: updateRemove, connectionID: connectionID, done: make(chan error, 1)})
}

// Reconnect redials the named connection's URI and swaps the socket in place.
func (m *Manager) Reconnect(ctx context.Context, connectionID string) error {
	return m.submitAndWait(ctx, &update{kind: updateReconnect, connectionID: connectionID, done: make(chan error, 1)})
}

// Send writes payload to the named connection.
func (m *Manager) Send(ctx context.Context, connectionID string, payload []byte) error {
	return m.submitAndWait(ctx, &update{kind: updateSend, connectionID: connectionID, payload: payload, done: make(chan error, 1)})
}

func (m *Manager) updateProcessor() {
	defer m.wg.Done()
	for {
		select {
		case u, ok := <-m.updateQueue:
			if !ok {
				return
			}
			m.dispatch(u)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) messageProcessor() {
	defer m.wg.Done()
	for {
		select {
		case msg, ok := <-m.messageQueue:
			if !ok {
				return
			}
			m.cfg.OnMessage(msg.connectionID, msg.raw)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) dispatch(u *update) {
	switch u.kind {
	case updateAdd:
		m.handleAdd(u)
	case updateRemove:
		m.handleRemove(u)
	case updateReconnect:
		m.handleReconnect(u)
	case updateSend:
		m.handleSend(u)
	}
}

func (m *Manager) handleAdd(u *update) {
	m.mu.Lock()
	if _, exists := m.conns[u.connectionID]; exists {
		m.mu.Unlock()
		u.done <- nil
		return
	}
	m.mu.Unlock()

	conn, _, err := m.dialer.DialContext(m.ctx, u.uri, nil)
	if err != nil {
		u.done <- fmt.Errorf("connection: dial %s: %w", u.connectionID, err)
		return
	}

	connCtx, cancel := context.WithCancel(m.ctx)
	entry := &connEntry{conn: conn, uri: u.uri, connectedAt: time.Now(), cancel: cancel}

	m.mu.Lock()
	m.conns[u.connectionID] = entry
	m.mu.Unlock()

	ActiveConnections.WithLabelValues(m.cfg.Venue, marketOf(u.connectionID)).Inc()

	m.wg.Add(1)
	go m.receiveLoop(connCtx, u.connectionID, conn, entry.connectedAt)

	u.done <- nil
}

func (m *Manager) handleRemove(u *update) {
	m.mu.Lock()
	entry, ok := m.conns[u.connectionID]
	if !ok {
		m.mu.Unlock()
		u.done <- nil
		return
	}
	delete(m.conns, u.connectionID)
	m.mu.Unlock()

	entry.cancel()
	ActiveConnections.WithLabelValues(m.cfg.Venue, marketOf(u.connectionID)).Dec()
	go entry.conn.Close()

	u.done <- nil
}

func (m *Manager) handleReconnect(u *update) {
	m.mu.Lock()
	entry, ok := m.conns[u.connectionID]
	m.mu.Unlock()
	if !ok {
		u.done <- fmt.Errorf("connection: reconnect unknown connection %s", u.connectionID)
		return
	}

	ReconnectAttemptsTotal.WithLabelValues(m.cfg.Venue, marketOf(u.connectionID)).Inc()

	conn, _, err := m.dialer.DialContext(m.ctx, entry.uri, nil)
	if err != nil {
		ReconnectFailuresTotal.WithLabelValues(m.cfg.Venue, marketOf(u.connectionID)).Inc()
		delay := m.backoffFor(u.connectionID).next()
		u.done <- fmt.Errorf("connection: reconnect %s: %w", u.connectionID, err)

		go func() {
			select {
			case <-time.After(delay):
				m.submitAsync(&update{kind: updateReconnect, connectionID: u.connectionID, done: make(chan error, 1)})
			case <-m.ctx.Done():
			}
		}()
		return
	}

	m.backoffFor(u.connectionID).reset()

	oldConn := entry.conn
	oldCancel := entry.cancel
	oldCancel()

	connCtx, cancel := context.WithCancel(m.ctx)
	newEntry := &connEntry{conn: conn, uri: entry.uri, connectedAt: time.Now(), cancel: cancel}

	m.mu.Lock()
	m.conns[u.connectionID] = newEntry
	m.mu.Unlock()

	go oldConn.Close()

	m.wg.Add(1)
	go m.receiveLoop(connCtx, u.connectionID, conn, newEntry.connectedAt)

	u.done <- nil

	if m.cfg.OnReconnect != nil {
		go m.cfg.OnReconnect(u.connectionID)
	}
}

func (m *Manager) handleSend(u *update) {
	m.mu.Lock()
	entry, ok := m.conns[u.connectionID]
	m.mu.Unlock()
	if !ok {
		u.done <- fmt.Errorf("connection: send to unknown connection %s", u.connectionID)
		return
	}

	err := entry.conn.WriteMessage(websocket.TextMessage, u.payload)
	u.done <- err
	if err != nil {
		m.logger.Warn("write failed, dropping connection", zap.String("connection_id", u.connectionID), zap.Error(err))
		m.handleRemove(&update{kind: updateRemove, connectionID: u.connectionID, done: make(chan error, 1)})
	}
}

func (m *Manager) receiveLoop(ctx context.Context, connectionID string, conn *websocket.Conn, connectedAt time.Time) {
	defer m.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			ConnectionDuration.WithLabelValues(m.cfg.Venue, marketOf(connectionID)).Observe(time.Since(connectedAt).Seconds())
			m.logger.Warn("upstream read failed, scheduling reconnect",
				zap.String("connection_id", connectionID), zap.Error(err))

			m.submitAsync(&update{kind: updateReconnect, connectionID: connectionID, done: make(chan error, 1)})
			return
		}

		select {
		case m.messageQueue <- message{connectionID: connectionID, raw: data}:
		case <-ctx.Done():
			return
		default:
			MessagesDroppedTotal.WithLabelValues(m.cfg.Venue, "queue_full").Inc()
		}
	}
}
