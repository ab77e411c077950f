// Package mqttclient connects dubby to an MQTT broker: job requests arrive on
// subscribed topics and job status goes out as QoS 1 publishes.
package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	publishTimeout = 2 * time.Second

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// ErrPublishTimeout means the broker did not acknowledge a publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MessageHandler receives every message on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

type Options struct {
	BrokerURL string
	ClientID  string
	// Topics is a comma-separated list of subscriptions. Empty means publish
	// only.
	Topics   string
	Username string
	Password string
	// AvailabilityTopic, when set, carries a retained "online" while connected
	// and "offline" as the last will.
	AvailabilityTopic string
	Log               zerolog.Logger
}

type Client struct {
	paho         mqtt.Client
	subs         map[string]byte
	availability string
	up           atomic.Bool
	onMsg        atomic.Pointer[MessageHandler]
	log          zerolog.Logger
}

// Connect dials the broker and returns once the first connection is up or
// ctx ends. Later drops reconnect in the background and resubscribe.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	c := &Client{
		subs:         make(map[string]byte),
		availability: opts.AvailabilityTopic,
		log:          opts.Log,
	}
	for _, t := range parseTopics(opts.Topics) {
		c.subs[t] = 1
	}

	po := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.connected).
		SetConnectionLostHandler(c.lost).
		SetDefaultPublishHandler(c.deliver)
	if c.availability != "" {
		po.SetWill(c.availability, availabilityOffline, 1, true)
	}

	c.paho = mqtt.NewClient(po)
	tok := c.paho.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("connect %s: %w", opts.BrokerURL, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.BrokerURL, err)
	}
	return c, nil
}

// SetMessageHandler replaces the handler for subscribed topics.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.onMsg.Store(&h)
}

// Publish sends payload at QoS 1, not retained.
func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, payload, false)
}

func (c *Client) publish(topic string, payload any, retained bool) error {
	tok := c.paho.Publish(topic, 1, retained, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	return tok.Error()
}

func (c *Client) connected(client mqtt.Client) {
	c.up.Store(true)
	c.log.Info().Int("subscriptions", len(c.subs)).Msg("mqtt connected")

	if len(c.subs) > 0 {
		if tok := client.SubscribeMultiple(c.subs, nil); tok.Wait() && tok.Error() != nil {
			c.log.Error().Err(tok.Error()).Msg("mqtt subscribe failed")
		}
	}
	if c.availability != "" {
		// The handler runs on paho's goroutine; waiting here would block it.
		go func() {
			if err := c.publish(c.availability, availabilityOnline, true); err != nil {
				c.log.Warn().Err(err).Msg("mqtt availability publish failed")
			}
		}()
	}
}

func (c *Client) lost(_ mqtt.Client, err error) {
	c.up.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
}

func (c *Client) deliver(_ mqtt.Client, msg mqtt.Message) {
	h := c.onMsg.Load()
	if h == nil {
		c.log.Debug().Str("topic", msg.Topic()).Msg("mqtt message without handler")
		return
	}
	(*h)(msg.Topic(), msg.Payload())
}

func (c *Client) IsConnected() bool {
	return c.up.Load()
}

// Close marks the service offline and disconnects.
func (c *Client) Close() {
	if c.availability != "" && c.up.Load() {
		if err := c.publish(c.availability, availabilityOffline, true); err != nil {
			c.log.Warn().Err(err).Msg("mqtt availability publish failed")
		}
	}
	c.paho.Disconnect(250)
	c.up.Store(false)
	c.log.Info().Msg("mqtt disconnected")
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
