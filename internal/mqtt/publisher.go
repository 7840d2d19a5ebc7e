package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"nir-backend/internal/models"
)

// TokenPublisher is the part of mqtt.Client the publisher needs
type TokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher publishes alert events from a channel
type Publisher struct {
	client TokenPublisher

	// Input channel (read by publisher, written by the dispatcher)
	AlertChan chan *models.AlertEvent

	// Topic pattern, e.g. "nir/{session_id}/alert"
	alertTopic     string
	qos            byte
	publishTimeout time.Duration
	logger         *zap.SugaredLogger
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	AlertTopic     string
	QoS            byte
	PublishTimeout time.Duration
}

// NewPublisher creates a new MQTT publisher reading from alertChan
func NewPublisher(
	client TokenPublisher,
	config PublisherConfig,
	alertChan chan *models.AlertEvent,
	logger *zap.SugaredLogger,
) *Publisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	return &Publisher{
		client:         client,
		AlertChan:      alertChan,
		alertTopic:     config.AlertTopic,
		qos:            config.QoS,
		publishTimeout: config.PublishTimeout,
		logger:         logger,
	}
}

// Start begins publishing alert events from the channel
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	p.logger.Info("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("MQTT Publisher: Context cancelled, shutting down...")
			return

		case event, ok := <-p.AlertChan:
			if !ok {
				p.logger.Info("MQTT Publisher: Alert channel closed, shutting down...")
				return
			}

			if err := p.publishAlert(event); err != nil {
				p.logger.Errorw("MQTT Publisher: Error publishing alert", "session", event.SessionID, "error", err)
			}
		}
	}
}

// publishAlert publishes one alert event to the session's topic
func (p *Publisher) publishAlert(event *models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	topic := formatTopic(p.alertTopic, event.SessionID)

	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.publishTimeout) {
		return fmt.Errorf("timed out publishing alert to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	p.logger.Debugf("Published alert for session %s to topic: %s", event.SessionID, topic)
	return nil
}

// formatTopic replaces {session_id} placeholder with actual session ID
func formatTopic(topicPattern, sessionID string) string {
	return strings.ReplaceAll(topicPattern, "{session_id}", sessionID)
}
