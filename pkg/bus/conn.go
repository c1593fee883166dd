package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var errTimedOut = errors.New("timed out")

// Handler receives an inbound message on the client's callback goroutine.
// It must not block.
type Handler func(topic string, payload []byte)

// Conn is a broker connection
type Conn interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, handler Handler) error
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
	Disconnect()
}

// PahoConn is a Conn backed by the Eclipse Paho MQTT client. Reconnection
// is left to the bus manager's backoff, so auto-reconnect is off.
type PahoConn struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

// NewPahoConn configures a client with a retained last-will marker on
// willTopic
func NewPahoConn(cfg Config, clientID, willTopic string) *PahoConn {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetWill(willTopic, AvailabilityOffline, cfg.QoS, true)

	return &PahoConn{
		client:  mqtt.NewClient(opts),
		qos:     cfg.QoS,
		timeout: cfg.ConnectTimeout,
	}
}

func (p *PahoConn) Connect(ctx context.Context) error {
	return p.wait(ctx, p.client.Connect(), "connect")
}

func (p *PahoConn) Subscribe(topic string, handler Handler) error {
	token := p.client.Subscribe(topic, p.qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	return p.wait(context.Background(), token, "subscribe "+topic)
}

func (p *PahoConn) Publish(topic string, payload []byte, retained bool) error {
	return p.wait(context.Background(), p.client.Publish(topic, p.qos, retained, payload), "publish "+topic)
}

func (p *PahoConn) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *PahoConn) Disconnect() {
	p.client.Disconnect(250)
}

func (p *PahoConn) wait(ctx context.Context, token mqtt.Token, op string) error {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%s: %w", op, errTimedOut)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
