package bus

import (
	"github.com/goccy/go-json"
)

// PublishStatus publishes both retained status documents. It is a no-op
// while disconnected.
func (m *Manager) PublishStatus() {
	if !m.conn.IsConnected() {
		return
	}
	sys, night := BuildStatus(m.fan.Snapshot(), m.temp)
	m.publishJSON(TopicSystemStatus, sys)
	m.publishJSON(TopicNightStatus, night)

	m.mu.Lock()
	m.lastStatus = m.now()
	m.mu.Unlock()
}

func (m *Manager) publishAvailability() {
	m.publish(TopicAvailability, []byte(AvailabilityOnline))

	m.mu.Lock()
	m.lastOnline = m.now()
	m.mu.Unlock()
}

func (m *Manager) publishJSON(suffix string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error().Err(err).Str("topic", suffix).Msg("Failed to encode status")
		return
	}
	m.publish(suffix, data)
}

func (m *Manager) publish(suffix string, payload []byte) {
	topic := m.cfg.Topic(suffix)
	if err := m.conn.Publish(topic, payload, true); err != nil {
		m.logger.Warn().Err(err).Str("topic", topic).Msg("Publish failed")
	}
}
