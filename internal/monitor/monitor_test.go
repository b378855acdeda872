package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpsniper/internal/discovery"
	"pumpsniper/internal/domain"
	"pumpsniper/internal/solana"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const testProgram = discovery.PumpFun

// fakeNode is a websocket RPC node that acknowledges logsSubscribe and then
// writes the scripted notifications for that connection.
type fakeNode struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	connections   int
	subscribes    int
	unsubscribes  int
	commitments   []string
	scripts       [][]string // per connection: mints to announce
	dropAfterSend []bool     // per connection: close after the script
}

func newFakeNode(t *testing.T) *fakeNode {
	n := &fakeNode{t: t}
	n.server = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *fakeNode) script(mints []string, drop bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scripts = append(n.scripts, mints)
	n.dropAfterSend = append(n.dropAfterSend, drop)
}

func (n *fakeNode) counts() (connections, subscribes, unsubscribes int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connections, n.subscribes, n.unsubscribes
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	n.mu.Lock()
	idx := n.connections
	n.connections++
	var mints []string
	drop := false
	if idx < len(n.scripts) {
		mints = n.scripts[idx]
		drop = n.dropAfterSend[idx]
	}
	n.mu.Unlock()

	subID := int64(1000 + idx)

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}

		switch req.Method {
		case "logsSubscribe":
			var cfg struct {
				Commitment string `json:"commitment"`
			}
			if len(req.Params) > 1 {
				json.Unmarshal(req.Params[1], &cfg)
			}
			n.mu.Lock()
			n.subscribes++
			n.commitments = append(n.commitments, cfg.Commitment)
			n.mu.Unlock()

			c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": subID})
			for i, mint := range mints {
				c.WriteJSON(notification(n.t, subID, mint, int64(i)))
			}
			if drop {
				return
			}
		case "logsUnsubscribe":
			n.mu.Lock()
			n.unsubscribes++
			n.mu.Unlock()
			c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": true})
		}
	}
}

func mintBytes(name string) []byte {
	b := make([]byte, 32)
	copy(b, name)
	for i := len(name); i < 32; i++ {
		b[i] = byte(i)
	}
	return b
}

func notification(t *testing.T, subID int64, name string, slot int64) map[string]interface{} {
	raw, err := discovery.EncodeCreateEvent([8]byte{0x1b, 0x72, 0xa9, 0x4d, 0xde, 0xeb, 0x63, 0x76},
		name, strings.ToUpper(name), "https://ipfs.io/ipfs/QmPadPadPadPadPadPadPadPadPadPadPadPadPadPadPad", mintBytes(name))
	require.NoError(t, err)
	raw = append(raw, make([]byte, 64)...)

	return map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]interface{}{
			"subscription": subID,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value": map[string]interface{}{
					"signature": "sig-" + name,
					"err":       nil,
					"logs": []string{
						"Program " + testProgram + " invoke [1]",
						"Program log: Instruction: Create",
						"Program data: " + base64.StdEncoding.EncodeToString(raw),
						"Program " + testProgram + " success",
					},
				},
			},
		},
	}
}

// collector records event names delivered to a reactor.
type collector struct {
	mu     sync.Mutex
	names  []string
	notify chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 100)}
}

func (c *collector) HandleEvent(_ context.Context, ev *domain.CreationEvent) error {
	c.mu.Lock()
	c.names = append(c.names, ev.Name)
	c.mu.Unlock()
	c.notify <- struct{}{}
	return nil
}

func (c *collector) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.names)
		c.mu.Unlock()
		if got >= n {
			break
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timeout waiting for %d events, got %d", n, got)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func testMonitor(endpoint string) *Monitor {
	return New(Options{
		Endpoint:       endpoint,
		ReconnectDelay: 20 * time.Millisecond,
	})
}

func TestMonitor_DeliversEvents(t *testing.T) {
	node := newFakeNode(t)
	node.script([]string{"alpha", "beta"}, false)

	m := testMonitor(node.url())
	c := newCollector()
	m.AddReactor(c)

	require.NoError(t, m.Start(context.Background(), testProgram))
	defer m.Stop()

	assert.Equal(t, []string{"alpha", "beta"}, c.waitFor(t, 2))

	state := m.State()
	assert.True(t, state.Running)
	assert.Equal(t, domain.MonitorStreaming, state.Phase)
	assert.Equal(t, int64(1000), state.SubscriptionID)
	assert.Equal(t, int64(2), state.EventsSeen)
	assert.Equal(t, testProgram, state.ProgramID)

	node.mu.Lock()
	assert.Equal(t, []string{"processed"}, node.commitments)
	node.mu.Unlock()
}

func TestMonitor_StartTwice(t *testing.T) {
	node := newFakeNode(t)
	m := testMonitor(node.url())

	require.NoError(t, m.Start(context.Background(), testProgram))
	defer m.Stop()

	err := m.Start(context.Background(), testProgram)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		return m.State().Phase == domain.MonitorStreaming
	}, 2*time.Second, 10*time.Millisecond)

	_, subscribes, _ := node.counts()
	assert.Equal(t, 1, subscribes)
}

func TestMonitor_ReconnectAfterDisconnect(t *testing.T) {
	node := newFakeNode(t)
	node.script([]string{"before"}, true)
	node.script([]string{"after"}, false)

	m := testMonitor(node.url())
	c := newCollector()
	m.AddReactor(c)

	require.NoError(t, m.Start(context.Background(), testProgram))
	defer m.Stop()

	assert.Equal(t, []string{"before", "after"}, c.waitFor(t, 2))

	connections, subscribes, _ := node.counts()
	assert.Equal(t, 2, connections)
	assert.Equal(t, 2, subscribes)

	state := m.State()
	assert.Equal(t, int64(1001), state.SubscriptionID, "fresh subscription after reconnect")
	assert.Equal(t, int64(1), state.Reconnects)
	assert.Equal(t, 0, state.RetryCount, "retry count resets once subscribed")
}

// silentNode acknowledges the subscription and then neither reads nor
// writes, so pings go unanswered.
func silentNode(t *testing.T) (url string, connections *atomic.Int32) {
	connections = new(atomic.Int32)
	quit := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		connections.Add(1)

		var req struct {
			ID uint64 `json:"id"`
		}
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": int64(7)})
		<-quit
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(quit) })
	return "ws" + strings.TrimPrefix(srv.URL, "http"), connections
}

func TestMonitor_SilentNodeTriggersReconnect(t *testing.T) {
	url, connections := silentNode(t)

	m := New(Options{
		Endpoint:       url,
		ReconnectDelay: 100 * time.Millisecond,
		WS: &solana.WSClientConfig{
			HandshakeTimeout: time.Second,
			SubscribeTimeout: time.Second,
			PingInterval:     50 * time.Millisecond,
			ReadTimeout:      200 * time.Millisecond,
			WriteTimeout:     time.Second,
		},
	})
	require.NoError(t, m.Start(context.Background(), testProgram))
	defer m.Stop()

	var sawStreaming, sawReconnecting bool
	require.Eventually(t, func() bool {
		switch m.State().Phase {
		case domain.MonitorSubscribed, domain.MonitorStreaming:
			sawStreaming = true
		case domain.MonitorReconnecting:
			sawReconnecting = true
		}
		return sawStreaming && sawReconnecting && connections.Load() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	state := m.State()
	assert.True(t, state.Running)
	assert.GreaterOrEqual(t, state.Reconnects, int64(1))
}

func TestMonitor_ReactorIsolation(t *testing.T) {
	node := newFakeNode(t)
	node.script([]string{"one", "two"}, false)

	m := testMonitor(node.url())

	var panics atomic.Int32
	m.AddReactor(ReactorFunc(func(ctx context.Context, ev *domain.CreationEvent) error {
		panics.Add(1)
		panic("boom")
	}))
	m.AddReactor(ReactorFunc(func(ctx context.Context, ev *domain.CreationEvent) error {
		return errors.New("always fails")
	}))
	c := newCollector()
	m.AddReactor(c)

	require.NoError(t, m.Start(context.Background(), testProgram))
	defer m.Stop()

	assert.Equal(t, []string{"one", "two"}, c.waitFor(t, 2))
	assert.Equal(t, int32(2), panics.Load())
	assert.True(t, m.IsRunning())
}

func TestMonitor_StopUnsubscribesAndIsIdempotent(t *testing.T) {
	node := newFakeNode(t)
	m := testMonitor(node.url())

	require.NoError(t, m.Start(context.Background(), testProgram))
	require.Eventually(t, func() bool {
		return m.State().Phase == domain.MonitorStreaming
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())
	assert.Equal(t, domain.MonitorStopped, m.State().Phase)

	require.Eventually(t, func() bool {
		_, _, unsubscribes := node.counts()
		return unsubscribes == 1
	}, 2*time.Second, 10*time.Millisecond)

	// second stop is a no-op
	m.Stop()
	assert.False(t, m.IsRunning())

	// stop on a never-started monitor is also safe
	testMonitor(node.url()).Stop()
}

func TestMonitor_RestartAfterStop(t *testing.T) {
	node := newFakeNode(t)
	m := testMonitor(node.url())

	require.NoError(t, m.Start(context.Background(), testProgram))
	m.Stop()
	require.NoError(t, m.Start(context.Background(), testProgram))
	defer m.Stop()

	require.Eventually(t, func() bool {
		_, subscribes, _ := node.counts()
		return subscribes >= 1 && m.State().Phase == domain.MonitorStreaming
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitor_UnboundedRetryWhileRunning(t *testing.T) {
	var dials atomic.Int32
	m := New(Options{
		Endpoint:       "ws://unused",
		ReconnectDelay: 5 * time.Millisecond,
		Dial: func(ctx context.Context, endpoint string, cfg *solana.WSClientConfig) (Session, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
	})

	require.NoError(t, m.Start(context.Background(), testProgram))

	require.Eventually(t, func() bool { return dials.Load() > 10 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.IsRunning())
	state := m.State()
	assert.Greater(t, state.RetryCount, 5)
	assert.Contains(t, state.LastError, "connection refused")

	m.Stop()
	after := dials.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, dials.Load(), "no attempts after stop")
}

func TestMonitor_MaxRetriesStopsLoop(t *testing.T) {
	var dials atomic.Int32
	m := New(Options{
		Endpoint:       "ws://unused",
		ReconnectDelay: time.Millisecond,
		MaxRetries:     3,
		Dial: func(ctx context.Context, endpoint string, cfg *solana.WSClientConfig) (Session, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
	})

	require.NoError(t, m.Start(context.Background(), testProgram))

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not give up")
	}

	assert.False(t, m.IsRunning())
	assert.Equal(t, int32(3), dials.Load())
	assert.Equal(t, domain.MonitorStopped, m.State().Phase)

	// can be started again after giving up
	require.NoError(t, m.Start(context.Background(), testProgram))
	m.Stop()
}

func TestMonitor_SkipsFailedTransactions(t *testing.T) {
	m := testMonitor("ws://unused")
	c := newCollector()
	m.AddReactor(c)

	good := notification(t, 1, "good", 1)
	value := good["params"].(map[string]interface{})["result"].(map[string]interface{})["value"].(map[string]interface{})

	m.dispatch(context.Background(), solana.LogNotification{
		Signature: "failed",
		Logs:      value["logs"].([]string),
		Err:       map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
	})
	m.dispatch(context.Background(), solana.LogNotification{
		Signature: "garbage",
		Logs:      []string{"Program data: " + strings.Repeat("!", 250)},
	})
	m.dispatch(context.Background(), solana.LogNotification{
		Signature: "sig-good",
		Logs:      value["logs"].([]string),
	})

	assert.Equal(t, []string{"good"}, c.waitFor(t, 1))
	assert.Equal(t, int64(1), m.State().EventsSeen)
}

func TestMonitor_StartRequiresProgram(t *testing.T) {
	m := testMonitor("ws://unused")
	assert.Error(t, m.Start(context.Background(), ""))
	assert.False(t, m.IsRunning())
}
