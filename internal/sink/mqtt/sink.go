// Package mqtt forwards committed audit entries to an MQTT broker so that
// other systems can react to configuration changes.
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/pkg/config"
	"github.com/splax/confvault/pkg/logger"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 60 * time.Second
	maxReconnect      = 30 * time.Second
	maxQoS            = 2
)

// ErrConnectionFailed is returned when the broker cannot be reached.
var ErrConnectionFailed = errors.New("mqtt: connection failed")

// publisher is the subset of the paho client used by the sink.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Sink publishes every audit entry on <prefix>/<entity_type>/<action>.
type Sink struct {
	client publisher
	prefix string
	qos    byte
	log    *slog.Logger
}

// Connect dials the broker described by cfg.
func Connect(cfg config.MQTTSinkConfig, log *slog.Logger) (*Sink, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	client := pahomqtt.NewClient(clientOptions(cfg))
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return newSink(client, cfg.TopicPrefix, byte(cfg.QoS), log), nil
}

func clientOptions(cfg config.MQTTSinkConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnect)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	return opts
}

func newSink(client publisher, prefix string, qos byte, log *slog.Logger) *Sink {
	if log == nil {
		log = logger.Discard()
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "confvault/audit"
	}
	return &Sink{client: client, prefix: prefix, qos: qos, log: log}
}

// Topic returns the topic an entry is published on.
func (s *Sink) Topic(entry *domain.AuditLog) string {
	return s.prefix + "/" + entry.EntityType + "/" + entry.Action
}

// Deliver publishes payload without blocking the caller. Failures are logged.
func (s *Sink) Deliver(entry *domain.AuditLog, payload []byte) {
	topic := s.Topic(entry)
	token := s.client.Publish(topic, s.qos, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			s.log.Warn("audit publish timed out", "topic", topic, "audit_id", entry.ID)
			return
		}
		if err := token.Error(); err != nil {
			s.log.Warn("audit publish failed", "topic", topic, "audit_id", entry.ID, "error", err)
		}
	}()
}

// Close disconnects from the broker.
func (s *Sink) Close() {
	s.client.Disconnect(disconnectQuiesce)
}
