// Package notify publishes session events onto NATS so other processes
// (frontends, schedulers) can observe session progress without holding a
// pipe to the agent.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/session"
)

// Subject layout. The wildcard tail is the session id; a session with no
// id yet publishes under "pending".
const (
	SubjectEvents = "agentdeck.session.events"
	SubjectReady  = "agentdeck.session.ready"
)

// wireEvent is the JSON shape published to NATS.
type wireEvent struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	TurnID         string    `json:"turn_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	ToolCallID     string    `json:"tool_call_id,omitempty"`
	ToolName       string    `json:"tool_name,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher forwards session events to NATS. It implements session.Sink.
type Publisher struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// Connect dials NATS with the reconnection behavior suited to a long-lived
// daemon. An empty URL returns a nil Publisher, which is safe to use.
func Connect(cfg config.NATSConfig, log *logger.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	log.Info("connected to nats", zap.String("url", cfg.URL))
	return &Publisher{
		conn:   conn,
		logger: log.WithFields(zap.String("component", "notify")),
	}, nil
}

// Publish implements session.Sink. Publishing is best effort; a NATS outage
// must never stall the session loop.
func (p *Publisher) Publish(ev session.Event) {
	if p == nil {
		return
	}

	we := wireEvent{
		Type:           string(ev.Type),
		SessionID:      ev.SessionID,
		ConversationID: ev.ConversationID,
		TurnID:         ev.TurnID,
		Text:           ev.Text,
		ToolCallID:     ev.ToolCallID,
		ToolName:       ev.ToolName,
		Timestamp:      ev.Timestamp,
	}
	if ev.Err != nil {
		we.Error = ev.Err.Error()
	}

	data, err := json.Marshal(we)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	subject := SubjectEvents
	if ev.Type == session.EventReady {
		subject = SubjectReady
	}
	suffix := ev.SessionID
	if suffix == "" {
		suffix = "pending"
	}

	if err := p.conn.Publish(subject+"."+suffix, data); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
