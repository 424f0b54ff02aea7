package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spooky-finn/orderbook-reconciler/domain"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
)

var ErrNotConnected = errors.New("stream client is not connected")

// EndpointFunc resolves the url to dial. It is called on every (re)connect so venues
// with short lived tokens can fetch a fresh one.
type EndpointFunc func(ctx context.Context) (string, error)

// StaticEndpoint always dials url.
func StaticEndpoint(url string) EndpointFunc {
	return func(context.Context) (string, error) { return url, nil }
}

type subscriber struct {
	onMessage func([]byte)
	onError   func(error)
}

type topicEntry struct {
	subscribers map[int64]*subscriber
}

type Client struct {
	protocol Protocol
	endpoint EndpointFunc
	dialer   websocket.Dialer
	logger   zerolog.Logger

	backoffMin time.Duration
	backoffMax time.Duration

	ids atomic.Int64

	mu         sync.Mutex
	conn       *websocket.Conn
	topics     map[string]*topicEntry
	running    bool
	connecting bool

	writeMu sync.Mutex

	// set by Connect
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithReconnectBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		c.backoffMin = min
		c.backoffMax = max
	}
}

func NewClient(protocol Protocol, endpoint EndpointFunc, opts ...Option) *Client {
	c := &Client{
		protocol: protocol,
		endpoint: endpoint,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger:     zerolog.Nop(),
		backoffMin: 500 * time.Millisecond,
		backoffMax: 30 * time.Second,
		topics:     make(map[string]*topicEntry),
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "stream").Str("venue", protocol.Name).Logger()
	c.ids.Store(time.Now().UnixNano() % 1_000_000)

	return c
}

// Connect dials the venue and starts the read loop. Topics subscribed before Connect
// are sent once the connection is up. A Connect racing another one returns nil without
// dialing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	c.conn = conn
	c.running = true
	topics := lo.Keys(c.topics)
	done := c.done
	c.mu.Unlock()

	c.resubscribe(conn, topics)
	go c.run(conn, done)

	return nil
}

// Subscribe registers a consumer for topic. Every frame routed to topic is handed to
// onMessage from the client's read goroutine; connection failures reach onError.
func (c *Client) Subscribe(topic string, onMessage func([]byte), onError func(error)) (func(), error) {
	id := c.ids.Add(1)

	c.mu.Lock()
	entry, ok := c.topics[topic]
	if !ok {
		entry = &topicEntry{subscribers: make(map[int64]*subscriber)}
		c.topics[topic] = entry
	}
	entry.subscribers[id] = &subscriber{onMessage: onMessage, onError: onError}
	conn := c.conn
	c.mu.Unlock()

	if !ok && conn != nil {
		c.logger.Info().Str("topic", topic).Msg("subscribing")
		if err := c.write(conn, c.protocol.Subscribe(c.ids.Add(1), topic)); err != nil {
			c.release(topic, id)
			return nil, &domain.SubscriptionError{Topics: []string{topic}, Err: err}
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.release(topic, id) })
	}, nil
}

// release drops one subscriber and unsubscribes the topic on the venue when it was the last one.
func (c *Client) release(topic string, id int64) {
	c.mu.Lock()
	entry, ok := c.topics[topic]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(entry.subscribers, id)
	last := len(entry.subscribers) == 0
	if last {
		delete(c.topics, topic)
	}
	conn := c.conn
	c.mu.Unlock()

	if !last || conn == nil || c.protocol.Unsubscribe == nil {
		return
	}

	c.logger.Info().Str("topic", topic).Msg("unsubscribing")
	if err := c.write(conn, c.protocol.Unsubscribe(c.ids.Add(1), topic)); err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("unsubscribe failed")
	}
}

// Topics lists the topics currently subscribed on the venue.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Keys(c.topics)
}

func (c *Client) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	conn := c.conn
	c.conn = nil
	done := c.done
	c.mu.Unlock()

	c.cancel()
	err := conn.Close()
	<-done

	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url, err := c.endpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %s endpoint: %w", c.protocol.Name, err)
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.protocol.Name, err)
	}

	c.logger.Info().Str("conn", uuid.NewString()).Msg("connected")
	return conn, nil
}

func (c *Client) run(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		err := c.readLoop(conn)
		if c.ctx.Err() != nil {
			return
		}

		c.logger.Error().Err(err).Msg("connection lost, reconnecting")
		c.broadcastError(err)

		if conn, err = c.reconnect(); err != nil {
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(conn, stopPing)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.route(frame)
	}
}

func (c *Client) route(frame []byte) {
	topic, payload, err := c.protocol.Route(frame)
	if errors.Is(err, ErrSkip) {
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Bytes("frame", frame).Msg("unroutable frame")
		return
	}

	c.mu.Lock()
	entry, ok := c.topics[topic]
	var subs []*subscriber
	if ok {
		subs = lo.Values(entry.subscribers)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.onMessage(payload)
	}
}

func (c *Client) broadcastError(err error) {
	c.mu.Lock()
	type target struct {
		topic string
		sub   *subscriber
	}
	var targets []target
	for topic, entry := range c.topics {
		for _, s := range entry.subscribers {
			targets = append(targets, target{topic, s})
		}
	}
	c.mu.Unlock()

	for _, t := range targets {
		if t.sub.onError != nil {
			t.sub.onError(&domain.SubscriptionError{Topics: []string{t.topic}, Err: err})
		}
	}
}

func (c *Client) reconnect() (*websocket.Conn, error) {
	b := &backoff.Backoff{Min: c.backoffMin, Max: c.backoffMax, Factor: 2, Jitter: true}

	for {
		wait := b.Duration()
		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-time.After(wait):
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			c.logger.Warn().Err(err).Float64("attempt", b.Attempt()).Msg("reconnect failed")
			continue
		}

		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			conn.Close()
			return nil, context.Canceled
		}
		c.conn = conn
		topics := lo.Keys(c.topics)
		c.mu.Unlock()

		c.resubscribe(conn, topics)
		return conn, nil
	}
}

func (c *Client) resubscribe(conn *websocket.Conn, topics []string) {
	for _, topic := range topics {
		if err := c.write(conn, c.protocol.Subscribe(c.ids.Add(1), topic)); err != nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	if c.protocol.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.protocol.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		var err error
		if c.protocol.Ping != nil {
			err = c.write(conn, c.protocol.Ping(c.ids.Add(1)))
		} else {
			c.writeMu.Lock()
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
		}
		if err != nil {
			c.logger.Debug().Err(err).Msg("ping failed")
		}
	}
}

func (c *Client) write(conn *websocket.Conn, frame interface{}) error {
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}
