package ingest

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/api"
	"github.com/jonatasu/dubby/internal/metrics"
	"github.com/jonatasu/dubby/internal/mqttclient"
)

// MQTTConn is the part of the MQTT client the intake uses.
type MQTTConn interface {
	SetMessageHandler(h mqttclient.MessageHandler)
	Publish(topic string, payload []byte) error
}

// MQTTIntakeOptions configures MQTT job intake and status publishing.
type MQTTIntakeOptions struct {
	Conn        MQTTConn
	StatusTopic string // job events go to {StatusTopic}/{job_id}
	Queue       Enqueuer
	Defaults    Defaults
	Log         zerolog.Logger
}

// MQTTIntake queues jobs from request messages and mirrors job events to
// per-job status topics.
type MQTTIntake struct {
	opts MQTTIntakeOptions
	log  zerolog.Logger
}

// statusMessage is the payload published on a job's status topic.
type statusMessage struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	JobID     string          `json:"job_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMQTTIntake creates the intake and registers it as the connection's
// message handler.
func NewMQTTIntake(opts MQTTIntakeOptions) *MQTTIntake {
	opts.StatusTopic = strings.TrimSuffix(opts.StatusTopic, "/")
	m := &MQTTIntake{
		opts: opts,
		log:  opts.Log.With().Str("component", "mqtt-intake").Logger(),
	}
	opts.Conn.SetMessageHandler(m.HandleMessage)
	return m
}

// HandleMessage decodes a request message and queues it.
func (m *MQTTIntake) HandleMessage(topic string, payload []byte) {
	if m.opts.StatusTopic != "" && strings.HasPrefix(topic, m.opts.StatusTopic+"/") {
		return
	}
	req, err := DecodeRequest(payload, m.opts.Defaults)
	if err != nil {
		metrics.IntakeRequestsTotal.WithLabelValues("mqtt", "rejected").Inc()
		m.log.Warn().Err(err).Str("topic", topic).Msg("dropping invalid job request")
		return
	}
	id, ok := submit(m.opts.Queue, req, "mqtt")
	if !ok {
		m.log.Warn().Str("input", req.InputPath).Msg("job queue full, mqtt request rejected")
		return
	}
	m.log.Info().Str("job_id", id).Str("input", req.InputPath).Msg("mqtt request queued")
}

// ForwardEvent publishes a job event to the job's status topic. It is
// registered as an event bus sink.
func (m *MQTTIntake) ForwardEvent(e api.SSEEvent) {
	if e.JobID == "" || m.opts.StatusTopic == "" {
		return
	}
	msg := statusMessage{
		EventID:   e.ID,
		EventType: e.Type,
		JobID:     e.JobID,
		Timestamp: e.Timestamp,
		Data:      json.RawMessage(e.Data),
	}
	if len(e.Data) == 0 {
		msg.Data = nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := m.opts.Conn.Publish(m.opts.StatusTopic+"/"+e.JobID, body); err != nil {
		m.log.Warn().Err(err).Str("job_id", e.JobID).Str("event_type", e.Type).Msg("status publish failed")
	}
}
