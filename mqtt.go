package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Enqueuer accepts outgoing messages.
type Enqueuer interface {
	Enqueue(to, message string) (Job, error)
}

type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// SendTopic carries {"to","message"} requests.
	SendTopic string
	// EventsTopic, when set, receives every modem event as JSON.
	EventsTopic string
}

// MQTTBridge accepts send requests from an MQTT topic and publishes modem
// events to another.
type MQTTBridge struct {
	opts   MQTTOptions
	queue  Enqueuer
	hub    *Hub
	logger *slog.Logger
	client mqtt.Client
}

func NewMQTTBridge(opts MQTTOptions, queue Enqueuer, hub *Hub, logger *slog.Logger) *MQTTBridge {
	return &MQTTBridge{opts: opts, queue: queue, hub: hub, logger: logger}
}

// handleMessage enqueues one send request payload.
func (b *MQTTBridge) handleMessage(payload []byte) (Job, error) {
	var req SMSRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return Job{}, fmt.Errorf("decode payload: %w", err)
	}
	if req.To == "" || req.Message == "" {
		return Job{}, errors.New("both 'to' and 'message' fields are required")
	}
	return b.queue.Enqueue(req.To, req.Message)
}

// Start connects to the broker and runs until ctx is cancelled. Connection
// loss is handled by the client's automatic reconnect.
func (b *MQTTBridge) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.opts.Broker)
	opts.SetClientID(b.opts.ClientID)
	if b.opts.Username != "" {
		opts.SetUsername(b.opts.Username)
		opts.SetPassword(b.opts.Password)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.logger.Info("MQTT connected", "topic", b.opts.SendTopic)
		token := c.Subscribe(b.opts.SendTopic, 0, func(_ mqtt.Client, m mqtt.Message) {
			job, err := b.handleMessage(m.Payload())
			if err != nil {
				b.logger.Warn("Rejected MQTT send request", "error", err, "topic", m.Topic())
				return
			}
			b.logger.Info("SMS queued", "id", job.ID, "to", job.To, "source", "mqtt")
		})
		if token.Wait() && token.Error() != nil {
			b.logger.Error("MQTT subscribe failed", "error", token.Error())
		}
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("connect to %s: timed out", b.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", b.opts.Broker, err)
	}

	go b.run(ctx)
	return nil
}

func (b *MQTTBridge) run(ctx context.Context) {
	defer b.client.Disconnect(500)
	if b.opts.EventsTopic == "" || b.hub == nil {
		<-ctx.Done()
		return
	}

	events, cancel := b.hub.Subscribe(100)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			token := b.client.Publish(b.opts.EventsTopic, 0, false, msg)
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				b.logger.Warn("MQTT publish failed", "error", token.Error())
			}
		}
	}
}
