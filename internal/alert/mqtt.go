package alert

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
)

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker   string // host:port or full URL
	ClientID string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration
}

// MQTTPublisher publishes payloads to a broker with automatic reconnects.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
}

// ConnectMQTT dials the broker and waits up to cfg.Timeout for the session.
func ConnectMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	p := &MQTTPublisher{cfg: cfg}

	broker := cfg.Broker
	if !hasScheme(broker) {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		logger.Info("Alert", "MQTT connected to %s as %s", broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("Alert", "MQTT connection lost (%v), reconnecting", err)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	p.setConnected(true)
	return p, nil
}

func hasScheme(s string) bool {
	for _, prefix := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// Connected reports the last known session state.
func (p *MQTTPublisher) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	if !p.Connected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(p.cfg.Timeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}

// Close disconnects with a short grace period.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	return nil
}
