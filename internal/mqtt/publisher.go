package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/coachd/internal/config"
)

// Publisher owns the broker connection and the publish loop.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	stats      StatsSource
	logger     *slog.Logger

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// New creates a publisher. It does not connect until [Publisher.Start].
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		stats:      stats,
		logger:     logger.With("component", "mqtt"),
	}
}

// Start connects and publishes until ctx ends. A slow initial
// connection is logged and retried in the background.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("broker connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "coachd-" + p.instanceID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("initial broker connection timed out, retrying in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects. It is a no-op before the
// connection manager exists.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.conn()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

func (p *Publisher) conn() *autopaho.ConnectionManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cm
}

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.instanceID
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(name string) string {
	return p.baseTopic() + "/" + name
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("availability published", "status", status)
}

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PublishInterval)
	defer ticker.Stop()

	p.publishStats(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStats(ctx)
		}
	}
}

func (p *Publisher) publishStats(ctx context.Context) {
	cm := p.conn()
	if cm == nil {
		return
	}
	msgs, err := stateMessages(p.stats())
	if err != nil {
		p.logger.Error("marshal stats snapshot", "error", err)
		return
	}
	for name, payload := range msgs {
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(name),
			Payload: payload,
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("state publish failed", "topic", name, "error", err)
		}
	}
	p.logger.Debug("stats published", "topics", len(msgs))
}
