// Package mqttpub publishes snapshot flows back to Home Assistant as MQTT
// discovery sensors.
package mqttpub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"energyflow/internal/config"
)

// Message represents an outgoing MQTT message
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Publisher is the part of mqtt.Client the sender needs.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Sender publishes queued messages once a connected client is available.
// Messages that arrive without a client are held and flushed on connect.
type Sender struct {
	logger *slog.Logger
	queue  []Message
}

func NewSender(logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{logger: logger}
}

// Run serves outgoing until ctx is done. Every value on clients replaces
// the current client.
func (s *Sender) Run(ctx context.Context, outgoing <-chan Message, clients <-chan Publisher) {
	var client Publisher
	for {
		select {
		case c := <-clients:
			client = c
			if client != nil && client.IsConnected() && len(s.queue) > 0 {
				queued := s.queue
				s.queue = nil
				for _, msg := range queued {
					s.publish(client, msg)
				}
				s.logger.Info("published queued mqtt messages", "count", len(queued))
			}

		case msg := <-outgoing:
			if client != nil && client.IsConnected() {
				s.publish(client, msg)
				continue
			}
			s.queue = s.enqueue(msg)
			s.logger.Debug("queued mqtt message", "topic", msg.Topic, "queued", len(s.queue))

		case <-ctx.Done():
			return
		}
	}
}

// enqueue keeps only the latest message per topic.
func (s *Sender) enqueue(msg Message) []Message {
	for i, q := range s.queue {
		if q.Topic == msg.Topic {
			s.queue[i] = msg
			return s.queue
		}
	}
	return append(s.queue, msg)
}

func (s *Sender) publish(client Publisher, msg Message) {
	token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	if !token.WaitTimeout(10 * time.Second) {
		s.logger.Warn("mqtt publish timed out", "topic", msg.Topic)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Warn("mqtt publish failed", "topic", msg.Topic, "error", err)
	}
}

// Connect starts a paho client for cfg. The client is handed to clients on
// every (re)connect.
func Connect(cfg config.MQTTConfig, logger *slog.Logger, clients chan<- Publisher) mqtt.Client {
	if logger == nil {
		logger = slog.Default()
	}
	broker := brokerURL(cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("connected to mqtt broker", "broker", broker)
		select {
		case clients <- client:
		default:
			logger.Warn("mqtt sender busy, client handoff dropped")
		}
	})

	client := mqtt.NewClient(opts)
	client.Connect()
	return client
}

// brokerURL accepts a full URL or a bare host[:port].
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if !strings.Contains(broker, ":") {
		broker += ":1883"
	}
	return fmt.Sprintf("tcp://%s", broker)
}
