package broker

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mfeltner/homelink/internal/config"
)

type fakeToken struct {
	err     error
	timeout bool
	done    chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishRecord struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeTransport stands in for the paho client.
type fakeTransport struct {
	mu         sync.Mutex
	connects   int
	connectErr error
	connectHun bool // connect token never acks
	publishes  []publishRecord
	publishErr error
	subscribed map[string]byte
	connected  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subscribed: make(map[string]byte)}
}

func (f *fakeTransport) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectHun {
		return &fakeToken{timeout: true, done: make(chan struct{})}
	}
	if f.connectErr == nil {
		f.connected = true
	}
	return newFakeToken(f.connectErr)
}

func (f *fakeTransport) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body []byte
	if payload != nil {
		body = payload.([]byte)
	}
	f.publishes = append(f.publishes, publishRecord{topic, qos, body})
	return newFakeToken(f.publishErr)
}

func (f *fakeTransport) Subscribe(topic string, qos byte, _ paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = qos
	return newFakeToken(nil)
}

func (f *fakeTransport) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.subscribed, topic)
	}
	return newFakeToken(nil)
}

func (f *fakeTransport) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func testConfig() *config.BrokerConfig {
	return &config.BrokerConfig{
		Host:     "broker.local",
		Username: "dashboard",
		Secret:   "secret",
		WSSURL:   "wss://broker.local:8884/mqtt",
	}
}

func newTestConnection(transport *fakeTransport) *Connection {
	c := NewConnection(testConfig())
	c.client = transport
	return c
}

func TestConnect_Idempotent(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := transport.connectCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestConnect_ErrorReportedSynchronously(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = errors.New("connection refused")
	c := newTestConnection(transport)

	err := c.Connect()
	if err == nil {
		t.Fatal("expected connect error")
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestConnect_Timeout(t *testing.T) {
	transport := newFakeTransport()
	transport.connectHun = true
	c := newTestConnection(transport)

	if err := c.Connect(); !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("err = %v, want ErrConnectTimeout", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestConnect_MissingCredentials(t *testing.T) {
	c := NewConnection(nil)
	if err := c.Connect(); !errors.Is(err, ErrCredentialsMissing) {
		t.Errorf("err = %v, want ErrCredentialsMissing", err)
	}
}

func TestPublish_SerializesObjects(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport)

	ok := c.Publish("control", map[string]any{"deviceId": "L1"}, QoSControl)
	if !ok {
		t.Fatal("Publish returned false")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.publishes) != 1 {
		t.Fatalf("publishes = %d, want 1", len(transport.publishes))
	}
	p := transport.publishes[0]
	if p.topic != "control" || p.qos != QoSControl {
		t.Errorf("published to %s qos %d", p.topic, p.qos)
	}
	if string(p.payload) != `{"deviceId":"L1"}` {
		t.Errorf("payload = %s", p.payload)
	}
}

func TestPublish_StringPassthrough(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport)

	if !c.Publish("live", "raw text", QoSFrames) {
		t.Fatal("Publish returned false")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if string(transport.publishes[0].payload) != "raw text" {
		t.Errorf("payload = %s", transport.publishes[0].payload)
	}
}

func TestPublish_FailuresReturnFalse(t *testing.T) {
	t.Run("encode failure", func(t *testing.T) {
		c := newTestConnection(newFakeTransport())
		if c.Publish("control", make(chan int), QoSControl) {
			t.Error("expected false for unencodable payload")
		}
	})

	t.Run("broker nack", func(t *testing.T) {
		transport := newFakeTransport()
		transport.publishErr = errors.New("nack")
		c := newTestConnection(transport)
		if c.Publish("control", "x", QoSControl) {
			t.Error("expected false on broker NACK")
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		c := NewConnection(nil)
		if c.Publish("control", "x", QoSControl) {
			t.Error("expected false without credentials")
		}
	})
}

func TestPublish_LazyConnects(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport)

	if got := c.State(); got != StateDisconnected {
		t.Fatalf("initial state = %v", got)
	}
	if !c.Publish("control", "x", QoSControl) {
		t.Fatal("Publish returned false")
	}
	if got := transport.connectCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (lazy connect)", got)
	}
	if got := c.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestClose_IsTerminal(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Close()
	if got := c.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if err := c.Connect(); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
	if c.Publish("control", "x", QoSControl) {
		t.Error("Publish after Close succeeded")
	}
	if err := c.Unsubscribe("control"); !errors.Is(err, ErrClosed) {
		t.Errorf("Unsubscribe after Close = %v, want ErrClosed", err)
	}
}

func TestUnsubscribe_NotConnected(t *testing.T) {
	c := newTestConnection(newFakeTransport())
	if err := c.Unsubscribe("control"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestReconnectInvokesOnConnectHook(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport)

	var mu sync.Mutex
	calls := 0
	c.SetOnConnect(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	// Simulate the transport-level callbacks paho fires around a
	// mid-session drop and recovery.
	c.handleConnectionLost(errors.New("broken pipe"))
	if got := c.State(); got != StateReconnecting {
		t.Fatalf("state = %v, want reconnecting", got)
	}
	c.handleConnected()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("on-connect hook calls = %d, want 1", calls)
	}
	if got := c.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestStateListenerSeesTransitions(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport)

	var mu sync.Mutex
	var seen []State
	c.SetStateListener(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Listener runs async; give it a moment.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[len(seen)-1] != StateConnected {
		t.Errorf("transitions = %v, want [... connected]", seen)
	}
}

func TestTransportSelection(t *testing.T) {
	tlsConn := NewConnection(testConfig())
	opts := tlsConn.buildOptions()
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("tls brokers = %v, want ssl://broker.local:8883", opts.Servers)
	}

	wsConn := NewWebSocketConnection(testConfig())
	opts = wsConn.buildOptions()
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "wss://broker.local:8884/mqtt" {
		t.Errorf("websocket brokers = %v, want the configured wss url", opts.Servers)
	}
}

func TestClientIdentityUniquePerProcess(t *testing.T) {
	a := NewConnection(testConfig())
	b := NewConnection(testConfig())
	if a.ClientID() == b.ClientID() {
		t.Errorf("client ids collide: %s", a.ClientID())
	}
	if !strings.HasPrefix(a.ClientID(), "homelink-") {
		t.Errorf("client id = %s", a.ClientID())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateClosed, "closed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestEncodePayload(t *testing.T) {
	b, err := encodePayload([]byte{0x01, 0x02})
	if err != nil || len(b) != 2 {
		t.Errorf("bytes passthrough failed: %v %v", b, err)
	}

	b, err = encodePayload(struct {
		State string `json:"state"`
	}{"on"})
	if err != nil || string(b) != `{"state":"on"}` {
		t.Errorf("object encode = %s, %v", b, err)
	}

	if _, err := encodePayload(make(chan int)); err == nil {
		t.Error("expected error for unencodable payload")
	}
}
