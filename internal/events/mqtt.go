package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MQTTOptions configures an MQTTPublisher
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// publishTimeout bounds how long a publish is tracked before it counts as
// failed.
const publishTimeout = 5 * time.Second

// MQTTPublisher publishes events as retained messages so late subscribers
// see the current state. Publish never waits for the broker; delivery is
// tracked in the background.
type MQTTPublisher struct {
	opts    MQTTOptions
	client  mqtt.Client
	log     *zerolog.Logger
	timeout time.Duration
	pending sync.WaitGroup

	mu        sync.RWMutex
	ready     bool
	published uint64
	errors    uint64
}

// NewMQTTPublisher creates the client. Nothing is sent until Connect
// completes.
func NewMQTTPublisher(opts MQTTOptions) *MQTTPublisher {
	if opts.ClientID == "" {
		opts.ClientID = "colorchecker-" + uuid.NewString()
	}
	if !strings.Contains(opts.Broker, "://") {
		opts.Broker = "tcp://" + opts.Broker
	}

	p := &MQTTPublisher{
		opts:    opts,
		log:     logger.WithComponent("mqtt"),
		timeout: publishTimeout,
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(mqtt.Client) {
		p.setReady(true)
		p.log.Info().Str("broker", opts.Broker).Str("client_id", opts.ClientID).Msg("MQTT connection established")
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setReady(false)
		p.log.Warn().Err(err).Str("broker", opts.Broker).Msg("MQTT connection lost, will auto-reconnect")
	}
	p.client = mqtt.NewClient(co)
	return p
}

func newMQTTPublisherWithClient(opts MQTTOptions, client mqtt.Client) *MQTTPublisher {
	return &MQTTPublisher{opts: opts, client: client, log: logger.WithComponent("mqtt"), timeout: publishTimeout}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Connect starts connecting in the background. Events sent before the
// connection completes are dropped.
func (p *MQTTPublisher) Connect() {
	p.log.Info().Str("broker", p.opts.Broker).Msg("Connecting to MQTT broker")
	p.client.Connect()
}

func (p *MQTTPublisher) setReady(v bool) {
	p.mu.Lock()
	p.ready = v
	p.mu.Unlock()
}

// Ready reports whether the broker connection is up.
func (p *MQTTPublisher) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// TopicFor returns the full MQTT topic for an event topic.
func (p *MQTTPublisher) TopicFor(topic string) string {
	if p.opts.TopicPrefix == "" {
		return topic
	}
	return strings.TrimSuffix(p.opts.TopicPrefix, "/") + "/" + topic
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(ev Event) error {
	if !p.Ready() {
		return ErrNotReady
	}

	payload, err := json.Marshal(struct {
		Active    bool   `json:"active"`
		Timestamp string `json:"timestamp"`
	}{ev.Active, ev.Time.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := p.TopicFor(ev.Topic)
	token := p.client.Publish(topic, p.opts.QoS, true, payload)
	p.pending.Add(1)
	go p.track(token, topic, ev.Active)
	return nil
}

// track waits for the broker to acknowledge a publish and updates the
// counters.
func (p *MQTTPublisher) track(token mqtt.Token, topic string, active bool) {
	defer p.pending.Done()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		p.countError()
		p.log.Warn().Str("topic", topic).Bool("active", active).Dur("timeout", p.timeout).Msg("MQTT publish not acknowledged")
		return
	}
	if err := token.Error(); err != nil {
		p.countError()
		p.log.Warn().Err(err).Str("topic", topic).Bool("active", active).Msg("MQTT publish failed")
		return
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// Stats returns the published and failed message counts.
func (p *MQTTPublisher) Stats() (published, failed uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.errors
}

// Close disconnects from the broker and waits for in-flight publishes to
// be acknowledged or time out.
func (p *MQTTPublisher) Close() {
	p.setReady(false)
	p.client.Disconnect(250)
	p.pending.Wait()
}
