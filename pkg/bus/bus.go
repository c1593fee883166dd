package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/breeze/pkg/connstate"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/metrics"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MaxTopicLen is the longest topic accepted into the queue
	MaxTopicLen = 128
	// MaxPayloadLen is the longest payload accepted into the queue
	MaxPayloadLen = 512

	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// Topic suffixes below the configured prefix
const (
	TopicMode          = "control/mode"
	TopicNightMode     = "control/night_mode"
	TopicNightSettings = "control/night_settings"
	TopicRecover       = "control/recover"
	TopicSystemStatus  = "status/system"
	TopicNightStatus   = "status/night_mode"
	TopicAvailability  = "availability"
)

// Config holds message bus configuration
type Config struct {
	Broker         string           `yaml:"broker"`
	ClientID       string           `yaml:"client_id"`
	Username       string           `yaml:"username"`
	Password       string           `yaml:"password"`
	Prefix         string           `yaml:"prefix"`
	QoS            byte             `yaml:"qos"`
	QueueDepth     int              `yaml:"queue_depth"`
	DrainBatch     int              `yaml:"drain_batch"`
	DrainInterval  time.Duration    `yaml:"drain_interval"`
	StatusInterval time.Duration    `yaml:"status_interval"`
	OnlineInterval time.Duration    `yaml:"online_interval"`
	ConnectTimeout time.Duration    `yaml:"connect_timeout"`
	StartupTimeout time.Duration    `yaml:"startup_timeout"`
	Backoff        connstate.Config `yaml:"backoff"`
}

// DefaultConfig returns the bus defaults. Broker must still be set.
func DefaultConfig() Config {
	return Config{
		Prefix:         "breeze",
		QoS:            1,
		QueueDepth:     10,
		DrainBatch:     5,
		DrainInterval:  50 * time.Millisecond,
		StatusInterval: 30 * time.Second,
		OnlineInterval: 60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		StartupTimeout: 15 * time.Second,
		Backoff: connstate.Config{
			Base:     time.Second,
			MaxShift: 4,
		},
	}
}

// Validate checks the bus configuration
func (c Config) Validate() error {
	switch {
	case c.Broker == "":
		return &types.ValidationError{Field: "mqtt.broker", Reason: "required"}
	case strings.Trim(c.Prefix, "/") == "":
		return &types.ValidationError{Field: "mqtt.prefix", Reason: "required"}
	case c.QoS > 2:
		return &types.ValidationError{Field: "mqtt.qos", Reason: "must be 0, 1 or 2"}
	case c.QueueDepth < 1:
		return &types.ValidationError{Field: "mqtt.queue_depth", Reason: "must be at least 1"}
	case c.DrainBatch < 1:
		return &types.ValidationError{Field: "mqtt.drain_batch", Reason: "must be at least 1"}
	case c.DrainInterval <= 0 || c.StatusInterval <= 0 || c.OnlineInterval <= 0 || c.ConnectTimeout <= 0:
		return &types.ValidationError{Field: "mqtt", Reason: "intervals and timeouts must be positive"}
	}
	return c.Backoff.Validate("mqtt")
}

// Topic returns the full topic for a suffix
func (c Config) Topic(suffix string) string {
	return strings.Trim(c.Prefix, "/") + "/" + suffix
}

// FanControl is the part of the fan controller driven by remote commands
type FanControl interface {
	ApplyMode(mode types.FanMode, speed *int) error
	SetNightMode(enabled bool) error
	SetNightSettings(startHour, endHour, maxSpeed int) error
	AttemptRecovery() error
	Snapshot() types.FanSnapshot
}

// Temperature is the part of the sampler reported in status documents
type Temperature interface {
	Smoothed() float64
	Healthy() bool
}

// Message is a queued inbound command. It owns its payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Manager owns the broker connection, the inbound queue and status
// publication
type Manager struct {
	cfg     Config
	conn    Conn
	fan     FanControl
	temp    Temperature
	tracker *connstate.Tracker
	queue   chan Message
	logger  zerolog.Logger
	now     func() time.Time
	linkUp  func() bool
	reg     *registry.Registry
	task    string
	dropped atomic.Uint64

	mu         sync.Mutex
	lastStatus time.Time
	lastOnline time.Time
}

// New creates a bus manager with a paho connection. An empty client id is
// replaced by a random one.
func New(cfg Config, fan FanControl, temp Temperature) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "breeze-" + uuid.NewString()
	}
	conn := NewPahoConn(cfg, clientID, cfg.Topic(TopicAvailability))
	return newManager(cfg, conn, fan, temp), nil
}

func newManager(cfg Config, conn Conn, fan FanControl, temp Temperature) *Manager {
	m := &Manager{
		cfg:     cfg,
		conn:    conn,
		fan:     fan,
		temp:    temp,
		queue:   make(chan Message, cfg.QueueDepth),
		logger:  log.WithComponent("bus"),
		now:     time.Now,
	}
	// retries are scheduled on the manager clock
	m.tracker = connstate.NewTracker(cfg.Backoff, func() time.Time { return m.now() })
	m.tracker.Instrument("bus", m.logger)
	return m
}

// Begin connects before the worker exists
func (m *Manager) Begin(ctx context.Context) error {
	if m.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.StartupTimeout)
		defer cancel()
	}
	if err := m.tracker.Establish(ctx, m.connect); err != nil {
		return fmt.Errorf("broker %s not connected: %w", m.cfg.Broker, err)
	}
	return nil
}

// RequireLink holds back connection attempts while up reports false. It
// must be called before Start.
func (m *Manager) RequireLink(up func() bool) {
	m.linkUp = up
}

// OnStateChange adds a callback run on every connection state transition.
// It must not call back into the manager.
func (m *Manager) OnStateChange(fn func(from, to string)) {
	m.tracker.OnChange(fn)
}

// Start registers the bus worker
func (m *Manager) Start(reg *registry.Registry, task registry.TaskConfig) error {
	m.reg, m.task = reg, task.Name
	return reg.Periodic(task, m.cfg.DrainInterval, m.Step)
}

// Step runs one worker cycle: connection upkeep, a bounded drain of the
// inbound queue and periodic availability and status publication
func (m *Manager) Step(ctx context.Context) {
	if m.tracker.Connected() && !m.conn.IsConnected() {
		m.logger.Warn().Msg("Broker connection lost")
		m.tracker.Lost()
	}
	if !m.tracker.Connected() && m.linkReady() && m.tracker.Due() {
		if err := m.connect(ctx); err != nil {
			m.logger.Debug().Err(err).Msg("Broker connect failed")
			m.tracker.Failed()
		} else {
			m.tracker.Succeeded()
		}
	}

	m.Drain()

	if !m.tracker.Connected() {
		return
	}
	now := m.now()
	m.mu.Lock()
	online := now.Sub(m.lastOnline) >= m.cfg.OnlineInterval
	status := now.Sub(m.lastStatus) >= m.cfg.StatusInterval
	m.mu.Unlock()

	if online {
		m.publishAvailability()
	}
	if status {
		m.PublishStatus()
	}
}

func (m *Manager) linkReady() bool {
	return m.linkUp == nil || m.linkUp()
}

// connect opens the session, subscribes to the control topics and announces
// availability
func (m *Manager) connect(ctx context.Context) error {
	if m.reg != nil {
		m.reg.MarkBlocked(m.task)
	}
	if err := m.conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	for _, suffix := range []string{TopicMode, TopicNightMode, TopicNightSettings, TopicRecover} {
		if err := m.conn.Subscribe(m.cfg.Topic(suffix), m.Enqueue); err != nil {
			m.conn.Disconnect()
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}
	m.publishAvailability()
	m.PublishStatus()
	m.logger.Info().Str("broker", m.cfg.Broker).Msg("Connected to broker")
	return nil
}

// Enqueue copies an inbound message into the queue. It never blocks: an
// oversized message or a full queue drops the message.
func (m *Manager) Enqueue(topic string, payload []byte) {
	if len(topic) > MaxTopicLen || len(payload) > MaxPayloadLen {
		m.drop(topic, "message too large")
		return
	}
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	select {
	case m.queue <- msg:
	default:
		m.drop(topic, "queue full")
	}
}

func (m *Manager) drop(topic, reason string) {
	m.dropped.Add(1)
	metrics.BusDroppedTotal.Inc()
	m.logger.Warn().Str("topic", topic).Str("reason", reason).Msg("Dropped inbound message")
}

// Drain dispatches at most DrainBatch queued messages and returns how many
// it handled
func (m *Manager) Drain() int {
	n := 0
	for n < m.cfg.DrainBatch {
		select {
		case msg := <-m.queue:
			n++
			if err := m.Dispatch(msg); err != nil {
				logger := log.WithTopic(msg.Topic)
				logger.Warn().Err(err).Msg("Command rejected")
			}
		default:
			return n
		}
	}
	return n
}

// Dispatch validates a command and applies it to the fan controller.
// Validation happens before any mutation, so a rejected command leaves the
// controller untouched.
func (m *Manager) Dispatch(msg Message) error {
	intent := strings.TrimPrefix(msg.Topic, strings.Trim(m.cfg.Prefix, "/")+"/")
	handle, ok := m.handlers()[intent]
	if !ok {
		metrics.BusCommandsTotal.WithLabelValues("unknown", "rejected").Inc()
		return &types.ValidationError{Field: "topic", Reason: fmt.Sprintf("unrecognized topic %q", msg.Topic)}
	}

	label := strings.TrimPrefix(intent, "control/")
	err := handle(msg.Payload)
	switch {
	case err == nil:
		metrics.BusCommandsTotal.WithLabelValues(label, "accepted").Inc()
		m.logger.Info().Str("intent", label).Msg("Command applied")
		m.PublishStatus()
	case errors.Is(err, types.ErrValidation):
		metrics.BusCommandsTotal.WithLabelValues(label, "rejected").Inc()
	default:
		metrics.BusCommandsTotal.WithLabelValues(label, "failed").Inc()
	}
	return err
}

func (m *Manager) handlers() map[string]func([]byte) error {
	return map[string]func([]byte) error{
		TopicMode:          m.handleMode,
		TopicNightMode:     m.handleNightMode,
		TopicNightSettings: m.handleNightSettings,
		TopicRecover:       m.handleRecover,
	}
}

// Connected reports whether the broker session is up
func (m *Manager) Connected() bool {
	return m.tracker.Connected()
}

// Snapshot returns the connection attempt state
func (m *Manager) Snapshot() connstate.Snapshot {
	return m.tracker.Snapshot()
}

// Dropped returns the number of inbound messages dropped so far
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// Pending returns the number of queued messages
func (m *Manager) Pending() int {
	return len(m.queue)
}

// Close marks the device offline and disconnects
func (m *Manager) Close() {
	if m.conn.IsConnected() {
		if err := m.conn.Publish(m.cfg.Topic(TopicAvailability), []byte(AvailabilityOffline), true); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to publish offline marker")
		}
		m.conn.Disconnect()
	}
	m.tracker.Reset()
}
