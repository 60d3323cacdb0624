// Package rmqtt publishes peer table changes to an MQTT broker as JSON,
// one retained message per peer under a base topic.
package rmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gordian-engine/radar/rpubsub"
	"github.com/gordian-engine/radar/rtable"
)

const (
	DefaultBaseTopic      = "radar/peers"
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
)

type Config struct {
	// Broker URL, e.g. tcp://localhost:1883. Required.
	Broker string

	ClientID string
	Username string
	Password string

	// Topic prefix; each peer is published to <BaseTopic>/<token hex>.
	BaseTopic string

	QoS byte

	// Retain the latest message per peer.
	// Removals then clear the retained message.
	Retained bool

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.BaseTopic == "" {
		c.BaseTopic = DefaultBaseTopic
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
}

// Publisher forwards [rtable.Change] values to MQTT.
type Publisher struct {
	log    *slog.Logger
	client mqtt.Client
	cfg    Config
}

// NewPublisher builds a paho client for cfg.
// The client is not connected until [*Publisher.Connect].
func NewPublisher(log *slog.Logger, cfg Config) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("rmqtt: Config.Broker is required")
	}
	cfg.setDefaults()

	p := &Publisher{log: log, cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("Connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("Connection to MQTT broker lost", "err", err)
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// NewPublisherWithClient uses an existing client,
// which the caller is responsible for connecting.
func NewPublisherWithClient(log *slog.Logger, client mqtt.Client, cfg Config) *Publisher {
	cfg.setDefaults()
	return &Publisher{log: log, client: client, cfg: cfg}
}

func (p *Publisher) Connect(ctx context.Context) error {
	tok := p.client.Connect()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-tok.Done():
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Run publishes every entry of snap,
// then every change from s onward, until ctx is canceled.
// It disconnects the client before returning.
func (p *Publisher) Run(ctx context.Context, snap rtable.Snapshot, s *rpubsub.Stream[rtable.Change]) {
	defer p.client.Disconnect(250)

	for _, peer := range snap {
		p.publishLogged(rtable.Change{Peer: peer})
	}

	s.Each(ctx, func(c rtable.Change) bool {
		p.publishLogged(c)
		return true
	})
}

func (p *Publisher) publishLogged(c rtable.Change) {
	if err := p.Publish(c); err != nil {
		p.log.Info("Failed to publish peer change", "token", c.Peer.Token, "err", err)
	}
}

// Publish sends a single change and waits for the broker to accept it.
func (p *Publisher) Publish(c rtable.Change) error {
	topic := p.cfg.BaseTopic + "/" + c.Peer.Token.Hex()

	var payload []byte
	if c.Removed && p.cfg.Retained {
		// An empty retained message clears the retained state for the topic,
		// so late subscribers do not see a departed peer.
		payload = nil
	} else {
		var err error
		payload, err = json.Marshal(newMessage(c, time.Now()))
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
	}

	tok := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retained, payload)
	if !tok.WaitTimeout(p.cfg.PublishTimeout) {
		return errors.New("publish timeout")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	p.log.Debug("Published peer change", "topic", topic, "size", len(payload))
	return nil
}
