package solana

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("ws session closed")

// WSClientConfig configures WebSocket session behavior.
type WSClientConfig struct {
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription acknowledgment.
	SubscribeTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		HandshakeTimeout: 10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
		PingInterval:     20 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WSSession is one websocket connection to a Solana RPC node. It does not
// reconnect; the owner dials a new session after a failure.
//
// Reads are single-owner: SubscribeLogs and ReadNotification must not be
// called concurrently. Unsubscribe and Close are safe from any goroutine.
type WSSession struct {
	config WSClientConfig

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// notifications read while waiting for an acknowledgment
	backlog []LogNotification

	done     chan struct{}
	wg       sync.WaitGroup
	pingErr  atomic.Pointer[error]
	closeErr error
	once     sync.Once
}

// DialWS opens a websocket session and starts its keepalive loop.
func DialWS(ctx context.Context, endpoint string, config *WSClientConfig) (*WSSession, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	s := &WSSession{
		config: cfg,
		conn:   conn,
		done:   make(chan struct{}),
	}

	// Any pong proves liveness.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	if cfg.PingInterval > 0 {
		s.wg.Add(1)
		go s.pingLoop()
	}

	return s, nil
}

// SubscribeLogs issues logsSubscribe and waits for the acknowledgment.
// Returns the server-side subscription ID.
func (s *WSSession) SubscribeLogs(ctx context.Context, filter LogsFilter, commitment Commitment) (int64, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	if commitment == "" {
		commitment = CommitmentProcessed
	}

	mentionsFilter := make(map[string]interface{})
	if len(filter.Mentions) > 0 {
		mentionsFilter["mentions"] = filter.Mentions
	} else {
		mentionsFilter["all"] = nil
	}

	reqID := s.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			mentionsFilter,
			map[string]string{"commitment": string(commitment)},
		},
	}

	if err := s.writeJSON(req); err != nil {
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	deadline := time.Now().Add(s.config.SubscribeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		frame, err := s.readFrame(deadline)
		if err != nil {
			return 0, fmt.Errorf("await subscribe ack: %w", err)
		}

		switch frame.Kind {
		case FrameSubscribeAck:
			if frame.RequestID == reqID {
				return frame.SubscriptionID, nil
			}
		case FrameError:
			if frame.RequestID == reqID {
				return 0, fmt.Errorf("subscribe rejected: %w", frame.Err)
			}
		case FrameNotification:
			s.backlog = append(s.backlog, *frame.Notification)
		}
	}
}

// Unsubscribe sends logsUnsubscribe. The acknowledgment is not awaited.
func (s *WSSession) Unsubscribe(subscriptionID int64) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      s.requestID.Add(1),
		Method:  "logsUnsubscribe",
		Params:  []interface{}{subscriptionID},
	}
	if err := s.writeJSON(req); err != nil {
		return fmt.Errorf("write unsubscribe: %w", err)
	}
	return nil
}

// ReadNotification blocks until the next logs notification arrives. Any read
// failure, including a missed keepalive, is returned and ends the session.
func (s *WSSession) ReadNotification() (LogNotification, error) {
	if len(s.backlog) > 0 {
		n := s.backlog[0]
		s.backlog = s.backlog[1:]
		return n, nil
	}

	for {
		if s.closed.Load() {
			return LogNotification{}, s.closedErr()
		}

		frame, err := s.readFrame(time.Now().Add(s.config.ReadTimeout))
		if err != nil {
			if s.closed.Load() {
				return LogNotification{}, s.closedErr()
			}
			return LogNotification{}, err
		}

		switch frame.Kind {
		case FrameNotification:
			return *frame.Notification, nil
		case FrameError:
			// errors for requests we did not wait on (e.g. unsubscribe)
			continue
		}
	}
}

// Close sends a close frame and releases the connection. Safe to call twice.
func (s *WSSession) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)

		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.config.WriteTimeout))
		if err := s.conn.Close(); err != nil && s.pingErr.Load() == nil {
			s.closeErr = err
		}
	})
	s.wg.Wait()
	return s.closeErr
}

func (s *WSSession) readFrame(deadline time.Time) (Frame, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return Frame{}, err
	}

	_, message, err := s.conn.ReadMessage()
	if err != nil {
		return Frame{}, fmt.Errorf("read message: %w", err)
	}

	frame, err := DecodeFrame(message)
	if err != nil {
		// malformed frames are skipped, not fatal
		return Frame{Kind: FrameUnknown}, nil
	}
	return frame, nil
}

func (s *WSSession) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *WSSession) closedErr() error {
	if p := s.pingErr.Load(); p != nil {
		return fmt.Errorf("keepalive failed: %w", *p)
	}
	return ErrSessionClosed
}

// pingLoop sends periodic ping frames. A failed ping closes the connection so
// the blocked reader returns and the owner reconnects.
func (s *WSSession) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				s.pingErr.Store(&err)
				s.closed.Store(true)
				_ = s.conn.Close()
				return
			}
		}
	}
}
