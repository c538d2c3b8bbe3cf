// Package mqtt wraps the paho client with context-aware publish and
// subscriptions that survive reconnects.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/lithammer/shortuuid/v4"

	"github.com/alarmpipe/alarmpipe/internal/conf"
	"github.com/alarmpipe/alarmpipe/internal/logger"
)

const (
	disconnectQuiesceMs = 250
	defaultConnectWait  = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Publish and Subscribe before Connect succeeds.
	ErrNotConnected = errors.New("mqtt client not connected")
	// ErrConnectCooldown rejects a Connect that follows the previous attempt
	// too closely.
	ErrConnectCooldown = errors.New("connection attempt too recent")
)

// MessageHandler receives the raw payload of every message on a subscription.
type MessageHandler func(topic string, payload []byte)

// Client is the subset of MQTT the engine and sinks use.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte) error
	PublishWithRetain(ctx context.Context, topic string, payload []byte, retain bool) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
}

type client struct {
	settings conf.MQTTSettings
	log      logger.Logger

	mu          sync.Mutex
	internal    paho.Client
	lastConnect time.Time
	subs        map[string]MessageHandler
}

// NewClient validates settings and returns an unconnected client. An empty
// client id gets a random suffix so several engines can share a broker.
func NewClient(settings conf.MQTTSettings, log logger.Logger) (Client, error) {
	if settings.Broker == "" {
		return nil, errors.New("mqtt broker is not configured")
	}
	if settings.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", settings.QoS)
	}
	if settings.ClientID == "" {
		settings.ClientID = "alarmpipe-" + shortuuid.New()
	}
	return &client{
		settings: settings,
		log:      log.With(logger.String("component", "mqtt"), logger.String("client_id", settings.ClientID)),
		subs:     make(map[string]MessageHandler),
	}, nil
}

func (c *client) connectWait() time.Duration {
	if d := c.settings.ConnectTimeout.Std(); d > 0 {
		return d
	}
	return defaultConnectWait
}

// Connect dials the broker, waiting until ctx is done or the configured
// connect timeout elapses. Attempts closer together than reconnect_delay are
// rejected with ErrConnectCooldown.
func (c *client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if cooldown := c.settings.ReconnectDelay.Std(); cooldown > 0 && !c.lastConnect.IsZero() {
		if since := time.Since(c.lastConnect); since < cooldown {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s since last attempt", ErrConnectCooldown, since.Round(time.Millisecond))
		}
	}
	c.lastConnect = time.Now()
	if c.internal != nil && c.internal.IsConnected() {
		c.mu.Unlock()
		return nil
	}

	opts := paho.NewClientOptions().
		AddBroker(c.settings.Broker).
		SetClientID(c.settings.ClientID).
		SetUsername(c.settings.Username).
		SetPassword(c.settings.Password).
		SetConnectTimeout(c.connectWait()).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("mqtt connection lost", logger.Error(err))
		})
	if d := c.settings.ReconnectDelay.Std(); d > 0 {
		opts.SetMaxReconnectInterval(max(d, time.Second) * 12)
	}
	c.internal = paho.NewClient(opts)
	pc := c.internal
	c.mu.Unlock()

	c.log.Info("connecting to mqtt broker", logger.String("broker", c.settings.Broker))
	if err := waitToken(ctx, pc.Connect(), c.connectWait()); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", c.settings.Broker, err)
	}
	return nil
}

// onConnect restores subscriptions after an automatic reconnect.
func (c *client) onConnect(pc paho.Client) {
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	c.log.Info("mqtt connected", logger.Int("subscriptions", len(subs)))
	for topic, h := range subs {
		tok := pc.Subscribe(topic, c.settings.QoS, wrap(h))
		go func() {
			if tok.WaitTimeout(c.connectWait()) && tok.Error() != nil {
				c.log.Error("mqtt resubscribe failed", logger.String("topic", topic), logger.Error(tok.Error()))
			}
		}()
	}
}

func (c *client) Disconnect() {
	c.mu.Lock()
	pc := c.internal
	c.internal = nil
	c.mu.Unlock()
	if pc != nil && pc.IsConnected() {
		pc.Disconnect(disconnectQuiesceMs)
		c.log.Info("mqtt disconnected")
	}
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

func (c *client) current() (paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internal == nil || !c.internal.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.internal, nil
}

func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.PublishWithRetain(ctx, topic, payload, false)
}

func (c *client) PublishWithRetain(ctx context.Context, topic string, payload []byte, retain bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pc, err := c.current()
	if err != nil {
		return err
	}
	if err := waitToken(ctx, pc.Publish(topic, c.settings.QoS, retain, payload), c.connectWait()); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. The subscription is remembered and
// replayed on every reconnect.
func (c *client) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	pc, err := c.current()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if err := waitToken(ctx, pc.Subscribe(topic, c.settings.QoS, wrap(handler)), c.connectWait()); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return fmt.Errorf("mqtt subscribe to %s: %w", topic, err)
	}
	c.log.Info("mqtt subscribed", logger.String("topic", topic))
	return nil
}

func wrap(h MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	}
}

// waitToken blocks until tok completes, ctx is done or timeout passes.
func waitToken(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
