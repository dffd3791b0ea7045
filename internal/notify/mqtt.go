package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/watchpost/internal/logging"
)

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic is the prefix; events go to <Topic>/recognition and <Topic>/recording.
	Topic string
}

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

// MQTTPublisher publishes events as JSON to an MQTT broker.
type MQTTPublisher struct {
	config MQTTConfig
	client mqtt.Client
	log    *slog.Logger
}

// NewMQTTPublisher creates a publisher. Call Connect before publishing.
func NewMQTTPublisher(config MQTTConfig) *MQTTPublisher {
	if config.Topic == "" {
		config.Topic = "watchpost"
	}
	if config.ClientID == "" {
		config.ClientID = "watchpost"
	}
	p := &MQTTPublisher{config: config, log: logging.ForService("mqtt")}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.log.Info("connected to MQTT broker", "broker", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn("connection to MQTT broker lost", "broker", config.Broker, "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect starts the connection, retrying in the background until it succeeds.
// It returns once connected or when ctx ends.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connection error: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return errors.New("connection timeout")
	}
}

// Topic returns the topic an event of type eventType is published to.
func (p *MQTTPublisher) Topic(eventType string) string {
	switch eventType {
	case TypeRecognition:
		return p.config.Topic + "/recognition"
	default:
		return p.config.Topic + "/recording"
	}
}

// Publish sends e to its topic.
func (p *MQTTPublisher) Publish(ctx context.Context, e Event) error {
	if !p.client.IsConnected() {
		return errors.New("not connected to MQTT broker")
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	token := p.client.Publish(p.Topic(e.Type), 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return errors.New("publish timeout")
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
