package broker

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/mfeltner/homelink/internal/config"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// connectTimeout bounds the initial dial and every publish wait.
	connectTimeout = 15 * time.Second

	// connectWait bounds how long a caller waits on a connect that is
	// already in flight instead of racing a second dial.
	connectWait = 500 * time.Millisecond

	connectPoll = 25 * time.Millisecond

	// opTimeout bounds subscribe/unsubscribe acknowledgement waits.
	opTimeout = 10 * time.Second

	maxReconnectInterval = 60 * time.Second

	// maxReconnectAttempts bounds automatic reconnection. Past this the
	// connection gives up and surfaces Disconnected so the UI can show an
	// offline banner; a later publish or subscribe dials fresh.
	maxReconnectAttempts = 10

	disconnectQuiesceMS = 1000

	keepAlive = 30 * time.Second
)

// Message priority levels used per call site.
const (
	// QoSFrames is used for high-frequency inbound feeds (camera frames).
	QoSFrames byte = 0

	// QoSControl is used for control commands and alerts.
	QoSControl byte = 1
)

// MessageHandler receives inbound messages. Handlers run on the paho
// delivery goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Connection owns the single physical connection to the pub/sub broker.
//
// It is constructed once per process, injected into the registry and the
// coordinators, and lives until Close. The client identity is unique per
// process start so concurrent dashboard instances never evict each other
// from the broker. The connection dials lazily on first publish or
// subscribe, reconnects automatically on transport loss, and is torn down
// only by explicit Close or an unrecoverable failure.
type Connection struct {
	cfg       *config.BrokerConfig
	clientID  string
	websocket bool

	mu         sync.Mutex
	state      State
	connecting bool
	client     pahoClient

	onConnect     func()
	stateListener func(State)

	reconnects int
}

// pahoClient is the subset of paho.Client the connection uses, extracted
// so tests can substitute a fake transport.
type pahoClient interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// NewConnection creates a broker connection over TLS. It does not dial;
// the first publish or subscribe does.
func NewConnection(cfg *config.BrokerConfig) *Connection {
	return &Connection{
		cfg:      cfg,
		clientID: newClientID(),
	}
}

// NewWebSocketConnection creates a connection over the broker's WSS
// transport. Same broker, same credentials, different listener.
func NewWebSocketConnection(cfg *config.BrokerConfig) *Connection {
	return &Connection{
		cfg:       cfg,
		clientID:  newClientID(),
		websocket: true,
	}
}

func newClientID() string {
	return "homelink-" + uuid.NewString()[:8]
}

// ClientID returns the per-process client identity.
func (c *Connection) ClientID() string { return c.clientID }

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetOnConnect registers a hook invoked on every successful (re)connect.
// The registry uses it to restore broker-level subscriptions, since clean
// sessions mean the broker forgets them.
func (c *Connection) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetStateListener registers a callback notified of state transitions.
// The callback runs on its own goroutine and may be slow.
func (c *Connection) SetStateListener(fn func(State)) {
	c.mu.Lock()
	c.stateListener = fn
	c.mu.Unlock()
}

func (c *Connection) buildOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		SetClientID(c.clientID).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Secret).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})

	if c.websocket {
		opts.AddBroker(c.cfg.WSSURL)
	} else {
		opts.AddBroker(fmt.Sprintf("ssl://%s:8883", c.cfg.Host))
	}

	opts.SetOnConnectHandler(func(_ paho.Client) {
		c.handleConnected()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.handleReconnecting()
	})

	return opts
}

// Connect establishes the broker session. It is idempotent: an already
// connected caller returns immediately, and a caller that finds a connect
// in flight waits a bounded time for it rather than dialing again.
func (c *Connection) Connect() error {
	if c.cfg == nil {
		return ErrCredentialsMissing
	}

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateConnected:
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return c.waitConnected(connectWait)
	}
	c.connecting = true
	c.setStateLocked(StateConnecting)
	if c.client == nil {
		c.client = paho.NewClient(c.buildOptions())
	}
	client := c.client
	c.mu.Unlock()

	token := client.Connect()
	acked := token.WaitTimeout(connectTimeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false

	if c.state == StateClosed {
		return ErrClosed
	}
	if !acked {
		c.setStateLocked(StateDisconnected)
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		c.setStateLocked(StateDisconnected)
		return fmt.Errorf("broker: connect: %w", err)
	}
	c.setStateLocked(StateConnected)
	return nil
}

// waitConnected polls for a connect in flight to finish, bounded by wait.
func (c *Connection) waitConnected(wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		switch c.State() {
		case StateConnected:
			return nil
		case StateClosed:
			return ErrClosed
		}
		time.Sleep(connectPoll)
	}
	return ErrConnectInFlight
}

func (c *Connection) handleConnected() {
	c.mu.Lock()
	c.reconnects = 0
	c.setStateLocked(StateConnected)
	onConnect := c.onConnect
	c.mu.Unlock()

	if onConnect != nil {
		onConnect()
	}
}

func (c *Connection) handleConnectionLost(err error) {
	log.Printf("broker: connection lost: %v", err)
	c.mu.Lock()
	if c.state != StateClosed {
		c.setStateLocked(StateReconnecting)
	}
	c.mu.Unlock()
}

func (c *Connection) handleReconnecting() {
	c.mu.Lock()
	c.reconnects++
	attempts := c.reconnects
	client := c.client
	c.mu.Unlock()

	if attempts <= maxReconnectAttempts {
		return
	}

	log.Printf("broker: giving up after %d reconnect attempts", attempts-1)
	// Disconnect on a separate goroutine: paho invokes this handler from
	// its own reconnect loop and Disconnect must not deadlock it.
	go func() {
		client.Disconnect(0)
		c.mu.Lock()
		if c.state != StateClosed {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
	}()
}

// setStateLocked updates the state and notifies the listener. Caller holds mu.
func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.stateListener != nil {
		go c.stateListener(s)
	}
}

// Publish sends a payload to a topic at the given priority level. Objects
// are serialized to JSON; string and []byte payloads pass through as-is.
//
// Publish never returns an error: any failure (no session, encode
// failure, broker NACK, timeout) is logged and reported as false so
// callers can treat delivery as best-effort without error plumbing.
func (c *Connection) Publish(topic string, payload any, qos byte) bool {
	body, err := encodePayload(payload)
	if err != nil {
		log.Printf("broker: publish %s: encode failed: %v", topic, err)
		return false
	}

	if err := c.Connect(); err != nil {
		log.Printf("broker: publish %s: %v", topic, err)
		return false
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	token := client.Publish(topic, qos, false, body)
	if !token.WaitTimeout(connectTimeout) {
		log.Printf("broker: publish %s: timeout", topic)
		return false
	}
	if err := token.Error(); err != nil {
		log.Printf("broker: publish %s: %v", topic, err)
		return false
	}
	return true
}

// encodePayload produces the wire bytes for a publish payload.
func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// Subscribe issues a broker-level SUBSCRIBE. Only the registry calls this;
// features register listeners with the registry instead.
func (c *Connection) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := c.Connect(); err != nil {
		return err
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	token := client.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		handler(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w: %s: timeout", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Unsubscribe issues a broker-level UNSUBSCRIBE. It does not dial: with no
// session there is nothing to unsubscribe from.
func (c *Connection) Unsubscribe(topic string) error {
	c.mu.Lock()
	client := c.client
	state := c.state
	c.mu.Unlock()

	if state == StateClosed {
		return ErrClosed
	}
	if client == nil || state != StateConnected {
		return ErrNotConnected
	}

	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w: %s: timeout", ErrUnsubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}

// Close tears the connection down. Closed is terminal: no reconnect, and
// every later operation fails with ErrClosed.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	client := c.client
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectQuiesceMS)
	}
}
