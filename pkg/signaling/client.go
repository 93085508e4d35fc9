// Package signaling maintains the durable control-plane connection to a relay
// endpoint, hiding transport flakiness behind reconnection, queueing, and a
// heartbeat.
package signaling

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/gorilla/websocket"
)

// ConnectionStatus represents the state of the control-plane connection
type ConnectionStatus string

const (
	// StatusDisconnected means no connection exists and none is pending
	StatusDisconnected ConnectionStatus = "disconnected"
	// StatusConnecting means a dial is in flight
	StatusConnecting ConnectionStatus = "connecting"
	// StatusConnected means the transport is open
	StatusConnected ConnectionStatus = "connected"
	// StatusError means the last connection failed; a reconnect may be scheduled
	StatusError ConnectionStatus = "error"
)

// ListenerHandle identifies a registered message listener for removal
type ListenerHandle struct {
	msgType  MessageType
	wildcard bool
	id       uint64
}

type listener struct {
	id uint64
	fn func(*Message)
}

// Client is the signaling client: one durable logical connection to a relay
type Client struct {
	// config is the signaling configuration
	config config.SignalingConfig

	// logger for logging
	logger logger.Logger

	// mu protects connection state, listeners, and timers
	mu sync.Mutex

	// url is the room-scoped relay endpoint
	url string

	// conn is the active websocket connection, nil unless connected
	conn *websocket.Conn

	// status is the connection status
	status ConnectionStatus

	// intentional marks a deliberate disconnect; suppresses reconnection
	intentional bool

	// attempts counts consecutive reconnect attempts
	attempts int

	// queue holds non-critical outbound messages while disconnected
	queue *messageQueue

	// listeners stores message callbacks by type
	listeners map[MessageType][]listener

	// wildcards receive every inbound message
	wildcards []listener

	// nextListenerID is the next listener handle id
	nextListenerID uint64

	// onStatusChange is notified of status transitions
	onStatusChange func(ConnectionStatus)

	// onMaxRetries is notified when reconnection attempts are exhausted
	onMaxRetries func(error)

	// heartbeatStop terminates the current connection's heartbeat loop
	heartbeatStop chan struct{}

	// pongTimer fires when a PONG is overdue
	pongTimer *time.Timer

	// reconnectTimer fires the next reconnect attempt
	reconnectTimer *time.Timer

	// writeMu serializes writes on the websocket
	writeMu sync.Mutex
}

// NewClient creates a new signaling client for the configured endpoint
func NewClient(cfg config.SignalingConfig, log logger.Logger) *Client {
	return &Client{
		config:    cfg,
		logger:    log,
		url:       cfg.URL,
		status:    StatusDisconnected,
		queue:     newMessageQueue(cfg.QueueSize),
		listeners: make(map[MessageType][]listener),
	}
}

// OnStatusChange sets the callback for connection-status transitions
func (c *Client) OnStatusChange(callback func(ConnectionStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatusChange = callback
}

// OnMaxRetries sets the callback for the terminal reconnection failure
func (c *Client) OnMaxRetries(callback func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMaxRetries = callback
}

// On registers a listener for a message type
func (c *Client) On(msgType MessageType, fn func(*Message)) *ListenerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextListenerID++
	c.listeners[msgType] = append(c.listeners[msgType], listener{id: c.nextListenerID, fn: fn})

	return &ListenerHandle{msgType: msgType, id: c.nextListenerID}
}

// OnAny registers a wildcard listener receiving every inbound message
func (c *Client) OnAny(fn func(*Message)) *ListenerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextListenerID++
	c.wildcards = append(c.wildcards, listener{id: c.nextListenerID, fn: fn})

	return &ListenerHandle{wildcard: true, id: c.nextListenerID}
}

// Off removes a previously registered listener
func (c *Client) Off(handle *ListenerHandle) {
	if handle == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if handle.wildcard {
		c.wildcards = removeListener(c.wildcards, handle.id)
		return
	}

	c.listeners[handle.msgType] = removeListener(c.listeners[handle.msgType], handle.id)
}

func removeListener(ls []listener, id uint64) []listener {
	for i, l := range ls {
		if l.id == id {
			return append(ls[:i], ls[i+1:]...)
		}
	}
	return ls
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// UpdateURL redirects the client to a new room-scoped endpoint. Takes effect
// on the next connect.
func (c *Client) UpdateURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

// QueuedMessages returns the number of messages held for later delivery
func (c *Client) QueuedMessages() int {
	return c.queue.Len()
}

// Connect opens the control-plane connection. It is a no-op when already
// connected or connecting. On failure a reconnect is scheduled unless the
// client was intentionally disconnected.
func (c *Client) Connect() error {
	// The guard and the transition share one critical section so two
	// concurrent callers cannot both pass the check and dial
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.intentional = false
	url := c.url
	callback := c.onStatusChange
	c.mu.Unlock()

	if callback != nil {
		callback(StatusConnecting)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.config.ConnectTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		c.logger.Error("Signaling dial failed",
			logger.String("url", url),
			logger.Err(err),
		)

		c.setStatus(StatusError)

		c.mu.Lock()
		intentional := c.intentional
		c.mu.Unlock()
		if !intentional {
			c.scheduleReconnect()
		}

		return errors.Wrap(errors.ErrCodeConnectionFailed, "signaling dial failed", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	c.setStatus(StatusConnected)

	c.logger.Info("Signaling connected",
		logger.String("url", url),
	)

	go c.readLoop(conn)
	go c.heartbeatLoop(conn, stop)

	c.flushQueue()

	return nil
}

// Disconnect intentionally tears the connection down. Cancels all timers,
// clears the outbound queue, and never triggers reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	c.attempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.queue.Clear()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		conn.Close()
	}

	c.setStatus(StatusDisconnected)

	c.logger.Info("Signaling disconnected intentionally")
}

// Send serializes and sends a message. While disconnected, critical and
// heartbeat kinds fail immediately; everything else is queued for later
// delivery, dropping the oldest entry on overflow.
func (c *Client) Send(msg *Message) error {
	c.mu.Lock()
	conn := c.conn
	status := c.status
	c.mu.Unlock()

	if status == StatusConnected && conn != nil {
		return c.write(conn, msg)
	}

	if msg.Type.IsHeartbeat() || msg.Type.IsCritical() {
		return errors.NewNotConnectedError(string(msg.Type))
	}

	if dropped := c.queue.Enqueue(msg); dropped != nil {
		c.logger.Warn("Outbound queue full, dropped oldest message",
			logger.String("dropped_type", string(dropped.Type)),
		)
	}

	c.logger.Debug("Queued message while disconnected",
		logger.String("type", string(msg.Type)),
		logger.Int("queue_len", c.queue.Len()),
	)

	return nil
}

// Request sends a message and waits for the matching response type or an
// ERROR reply. The context bounds the round trip.
func (c *Client) Request(ctx context.Context, msg *Message, successType MessageType, match func(*Message) bool) (*Message, error) {
	result := make(chan *Message, 1)
	failure := make(chan *Message, 1)

	hOK := c.On(successType, func(m *Message) {
		if match != nil && !match(m) {
			return
		}
		select {
		case result <- m:
		default:
		}
	})
	hErr := c.On(TypeError, func(m *Message) {
		select {
		case failure <- m:
		default:
		}
	})
	defer c.Off(hOK)
	defer c.Off(hErr)

	if err := c.Send(msg); err != nil {
		return nil, err
	}

	select {
	case m := <-result:
		return m, nil
	case m := <-failure:
		return nil, errors.New(errors.ErrCodeServerRejected, m.Error)
	case <-ctx.Done():
		return nil, errors.NewTimeoutError(string(msg.Type))
	}
}

// write sends a message over an open connection
func (c *Client) write(conn *websocket.Conn, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to marshal message", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.config.ConnectTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.NewNetworkError("signaling write failed", err)
	}

	return nil
}

// flushQueue delivers messages queued while disconnected, in original order
func (c *Client) flushQueue() {
	msgs := c.queue.Drain()
	if len(msgs) == 0 {
		return
	}

	c.logger.Info("Flushing queued messages",
		logger.Int("count", len(msgs)),
	)

	for i, msg := range msgs {
		if err := c.Send(msg); err != nil {
			c.logger.Warn("Failed to flush queued message, re-queueing remainder",
				logger.String("type", string(msg.Type)),
				logger.Err(err),
			)
			for _, rest := range msgs[i:] {
				c.queue.Enqueue(rest)
			}
			return
		}
	}
}

// readLoop reads and dispatches inbound frames until the connection dies
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping unparseable signaling frame",
				logger.Err(err),
			)
			continue
		}

		// PONG clears the heartbeat timeout and is not re-emitted
		if msg.Type == TypePong {
			c.clearPongTimeout()
			continue
		}

		c.dispatch(&msg)
	}
}

// dispatch invokes type-specific listeners and wildcard listeners in order.
// Listeners run synchronously on the read loop so state transitions stay
// serialized.
func (c *Client) dispatch(msg *Message) {
	c.mu.Lock()
	fns := make([]func(*Message), 0, len(c.listeners[msg.Type])+len(c.wildcards))
	for _, l := range c.listeners[msg.Type] {
		fns = append(fns, l.fn)
	}
	for _, l := range c.wildcards {
		fns = append(fns, l.fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// handleReadError reacts to a broken read: intentional disconnects are
// ignored, permanent close codes stop the client, everything else reconnects.
func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.intentional || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	c.mu.Unlock()

	conn.Close()

	if closeErr, ok := err.(*websocket.CloseError); ok && IsPermanentCloseCode(closeErr.Code) {
		c.logger.Warn("Signaling closed permanently",
			logger.Int("code", closeErr.Code),
			logger.String("reason", closeErr.Text),
		)
		c.setStatus(StatusDisconnected)
		return
	}

	c.logger.Warn("Signaling connection lost",
		logger.Err(err),
	)

	c.setStatus(StatusError)
	c.scheduleReconnect()
}

// heartbeatLoop sends a PING every interval and arms the pong timeout
func (c *Client) heartbeatLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.Status() != StatusConnected {
				return
			}

			if err := c.write(conn, NewMessage(TypePing)); err != nil {
				c.logger.Warn("Heartbeat send failed",
					logger.Err(err),
				)
				continue
			}

			c.armPongTimeout(conn)
		}
	}
}

// armPongTimeout schedules the missed-pong reaction for the current ping
func (c *Client) armPongTimeout(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pongTimer != nil {
		c.pongTimer.Stop()
	}
	c.pongTimer = time.AfterFunc(c.config.PongTimeout, func() {
		c.logger.Warn("Pong timeout, forcing reconnect")
		c.forceReconnect(conn)
	})
}

// clearPongTimeout cancels the pending pong timeout
func (c *Client) clearPongTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

// forceReconnect treats a missed heartbeat exactly like a transport error
func (c *Client) forceReconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.intentional || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.mu.Unlock()

	conn.Close()

	c.setStatus(StatusError)
	c.scheduleReconnect()
}

// scheduleReconnect arms the next reconnect attempt with capped exponential
// backoff plus up to 10% jitter
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.config.MaxReconnectAttempts {
		onMax := c.onMaxRetries
		c.mu.Unlock()

		c.logger.Error("Reconnect attempts exhausted",
			logger.Int("attempts", c.config.MaxReconnectAttempts),
		)

		if onMax != nil {
			onMax(errors.New(errors.ErrCodeMaxRetriesExceeded, "max reconnect attempts reached"))
		}
		return
	}

	attempt := c.attempts
	c.attempts++

	delay := ReconnectDelay(c.config.ReconnectBaseDelay, c.config.ReconnectMaxDelay, attempt)

	c.logger.Info("Scheduling reconnect",
		logger.Int("attempt", attempt+1),
		logger.Any("delay", delay),
	)

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.Connect()
	})
	c.mu.Unlock()
}

// setStatus records a status transition and notifies the listener
func (c *Client) setStatus(status ConnectionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	callback := c.onStatusChange
	c.mu.Unlock()

	if callback != nil {
		callback(status)
	}
}

// ReconnectDelay computes min(base * 2^attempt, cap) plus up to 10% jitter
func ReconnectDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}
