// Package mqtt delivers label bitmaps to a broker over MQTT 3.1.1, either on a
// plain TCP stream or tunnelled through a WebSocket.
//
// A Session is short-lived: it is dialed for one update, publishes the
// encoded regions at QoS 0 and is closed again. Nothing is retried.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	mqtt "github.com/soypat/natiu-mqtt"
)

const defaultDecodeBuf = 4096

var (
	pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

	errSessionClosed = errors.New("mqtt: session closed by client")
	errBrokerHangUp  = errors.New("broker closed the connection")
)

// wsSubprotocol is the WebSocket subprotocol registered for MQTT.
const wsSubprotocol = "mqtt"

// Client holds the connection settings shared by every session it dials.
// The zero value connects anonymously with a random client ID.
type Client struct {
	ID       string        // MQTT client identifier. Random "esl-<uuid>" when empty.
	Timeout  time.Duration // Write deadline for each publish and for the disconnect. Zero disables.
	Logger   *slog.Logger
	Username string // MQTT broker username (optional)
	Password string // MQTT broker password (optional, requires Username)
	// DecodeBufSize sizes the buffer used to decode packets sent by the broker.
	DecodeBufSize int
}

// Session is one open broker connection.
type Session struct {
	conn    net.Conn
	client  *mqtt.Client
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	packetID uint16

	closeOnce sync.Once
	closeErr  error
	closing   atomic.Bool

	lost    chan struct{}
	lostErr error
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ClientID returns the identifier presented to the broker.
func (c *Client) ClientID() string {
	if c.ID != "" {
		return c.ID
	}
	return "esl-" + uuid.NewString()
}

// Dial connects to broker and completes the MQTT handshake. tcp endpoints
// are dialed directly; ws and wss endpoints are upgraded with the "mqtt"
// subprotocol and carry MQTT packets as binary messages.
// There is no handshake timeout besides ctx: a broker that accepts the socket
// and never answers keeps Dial waiting until ctx is done.
func (c *Client) Dial(ctx context.Context, broker string) (*Session, error) {
	logger := c.logger()
	ep, err := ParseBroker(broker)
	if err != nil {
		return nil, err
	}

	logger.Info("socket:dialing", slog.String("addr", ep.String()))
	conn, err := dialEndpoint(ctx, ep)
	if err != nil {
		logger.Error("socket:dial-failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("mqtt: dial %s: %w", ep, err)
	}

	bufSize := c.DecodeBufSize
	if bufSize <= 0 {
		bufSize = defaultDecodeBuf
	}
	cfg := mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, bufSize)},
		OnPub: func(pubHead mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			logger.Debug("mqtt:unexpected-message", slog.String("topic", string(varPub.TopicName)))
			return nil
		},
	}
	id := c.ClientID()
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(id))
	if c.Username != "" {
		varconn.Username = []byte(c.Username)
		if c.Password != "" {
			varconn.Password = []byte(c.Password)
		}
	}
	client := mqtt.NewClient(cfg)

	// Expire the socket when ctx ends so a blocked read returns.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })

	logger.Info("mqtt:start-connecting", slog.String("client_id", id))
	err = client.StartConnect(conn, &varconn)
	if err != nil {
		stop()
		conn.Close()
		logger.Error("mqtt:start-connect-failed", slog.String("reason", err.Error()))
		return nil, fmt.Errorf("mqtt: start connect: %w", err)
	}
	for !client.IsConnected() {
		if err = client.HandleNext(); err != nil {
			stop()
			conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			logger.Error("mqtt:connect-failed", slog.String("reason", err.Error()))
			return nil, fmt.Errorf("mqtt: connect: %w", err)
		}
	}
	if !stop() {
		// ctx ended right as the broker answered.
		conn.Close()
		return nil, fmt.Errorf("mqtt: connect: %w", ctx.Err())
	}
	conn.SetDeadline(time.Time{})
	logger.Info("mqtt:connected", slog.String("addr", ep.String()))

	s := &Session{
		conn:    conn,
		client:  client,
		logger:  logger,
		timeout: c.Timeout,
		lost:    make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

func dialEndpoint(ctx context.Context, ep Endpoint) (net.Conn, error) {
	if !ep.WebSocket() {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", ep.Host)
	}
	ws, _, err := websocket.Dial(ctx, ep.String(), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	if err != nil {
		return nil, err
	}
	// The session, not the dial context, bounds the tunnel's lifetime.
	return websocket.NetConn(context.Background(), ws, websocket.MessageBinary), nil
}

// watch reads the socket for the rest of the session. At QoS 0 the broker
// has nothing to send after CONNACK, so any read error before Close means
// the connection dropped.
func (s *Session) watch() {
	buf := make([]byte, 64)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.logger.Debug("mqtt:unexpected-data", slog.Int("bytes", n))
		}
		if err == nil {
			continue
		}
		if s.closing.Load() {
			return
		}
		if errors.Is(err, io.EOF) {
			err = errBrokerHangUp
		}
		s.lostErr = fmt.Errorf("mqtt: connection lost: %w", err)
		s.logger.Error("mqtt:disconnected", slog.String("reason", err.Error()))
		close(s.lost)
		return
	}
}

// Lost is closed when the connection drops before Close is called.
func (s *Session) Lost() <-chan struct{} { return s.lost }

// Err returns why the connection was lost, or nil while it is up.
func (s *Session) Err() error {
	select {
	case <-s.lost:
		return s.lostErr
	default:
		return nil
	}
}

// Publish sends payload to topic at QoS 0. It returns once the packet has
// been written to the socket; no acknowledgement exists at this level.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetWriteDeadline(s.deadline(ctx))
	s.packetID++
	if s.packetID == 0 {
		s.packetID = 1
	}
	vp := mqtt.VariablesPublish{
		TopicName:        []byte(topic),
		PacketIdentifier: s.packetID,
	}
	if err := s.client.PublishPayload(pubFlags, vp, payload); err != nil {
		s.logger.Error("mqtt:publish-failed", slog.String("topic", topic), slog.Any("reason", err))
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	s.logger.Info("mqtt:published",
		slog.String("topic", topic),
		slog.Int("bytes", len(payload)),
	)
	return nil
}

func (s *Session) deadline(ctx context.Context) time.Time {
	var dl time.Time
	if s.timeout > 0 {
		dl = time.Now().Add(s.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (dl.IsZero() || d.Before(dl)) {
		dl = d
	}
	return dl
}

// Close sends DISCONNECT and closes the socket. Only the first call has an
// effect; later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.timeout > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
		}
		if err := s.client.Disconnect(errSessionClosed); err != nil {
			s.logger.Debug("mqtt:disconnect-failed", slog.String("reason", err.Error()))
		}
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = fmt.Errorf("mqtt: close: %w", err)
		}
		s.logger.Info("tcpconn:closed")
	})
	return s.closeErr
}
