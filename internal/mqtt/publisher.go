package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/corvid-labs/envsim/internal/config"
	"github.com/corvid-labs/envsim/internal/events"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// message is the JSON envelope published for every forwarded bus event.
type message struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher subscribes to the engine's event bus and forwards every
// event to a configured MQTT topic as a retained JSON message.
type Publisher struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect or subscribe. Call
// [Publisher.Start] to begin. A nil logger is replaced with
// [slog.Default].
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, bus: bus, logger: logger}
}

// Start connects to the configured broker and forwards bus events until
// ctx is cancelled. Publishing is best-effort: a publish failure is
// logged and does not stop the forwarding loop.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.cfg.Enabled() {
		return fmt.Errorf("mqtt publisher: no broker configured")
	}

	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.cfg.Topic + "/availability"

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker, "topic", p.cfg.Topic)
			publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := cm.Publish(publishCtx, &paho.Publish{
				Topic: availTopic, Payload: []byte("online"), QoS: 1, Retain: true,
			}); err != nil {
				p.logger.Warn("mqtt availability publish failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.forwardLoop(ctx)
	return nil
}

// Stop disconnects from the broker after publishing an "offline"
// availability message.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic: p.cfg.Topic + "/availability", Payload: []byte("offline"), QoS: 1, Retain: true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "error", err)
	}
	return p.cm.Disconnect(ctx)
}

// forwardLoop subscribes to the bus and publishes each event until ctx
// is cancelled.
func (p *Publisher) forwardLoop(ctx context.Context) {
	ch := p.bus.Subscribe(64)
	defer p.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			p.publish(ctx, evt)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt events.Event) {
	if p.cm == nil {
		return
	}
	payload, err := json.Marshal(message{Timestamp: evt.Timestamp, Source: evt.Source, Kind: evt.Kind, Data: evt.Data})
	if err != nil {
		p.logger.Error("mqtt marshal event failed", "error", err)
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic: p.cfg.Topic, Payload: payload, QoS: 0, Retain: true,
	}); err != nil {
		p.logger.Debug("mqtt publish failed", "error", err)
	}
}
