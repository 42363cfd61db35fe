package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"postsync/internal/observability"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultTopicPrefix is the default MQTT topic prefix for change events.
const DefaultTopicPrefix = "postsync"

const mqttQoS = 1

// MQTTConfig holds the configuration for an MQTT change feed.
type MQTTConfig struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker   string
	Username string
	Password string
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is prepended to "posts/<ownerID>" (default: "postsync").
	TopicPrefix string
	// Logger is the logger to use. If nil, observability.Logger is used.
	Logger *slog.Logger
}

// MQTTFeed is a ChangeFeed over an MQTT broker. Each owner has one topic;
// the broker subscription is shared by every local subscriber of that owner.
type MQTTFeed struct {
	cfg       MQTTConfig
	client    paho.Client
	newClient func(*paho.ClientOptions) paho.Client
	log       *slog.Logger

	subscribeMu sync.Mutex
	mu          sync.RWMutex
	connected   bool
	closed      bool
	topics      map[string]map[*mqttSubscription]struct{}
}

var _ ChangeFeed = (*MQTTFeed)(nil)

// NewMQTTFeed creates a feed; call Start to connect.
func NewMQTTFeed(cfg MQTTConfig) *MQTTFeed {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Logger
	}
	return &MQTTFeed{
		cfg:       cfg,
		newClient: paho.NewClient,
		log:       cfg.Logger.WithGroup("mqtt"),
		topics:    make(map[string]map[*mqttSubscription]struct{}),
	}
}

// Name implements ChangeFeed.
func (f *MQTTFeed) Name() string { return "mqtt" }

// Topic returns the topic carrying ownerID's change events.
func (f *MQTTFeed) Topic(ownerID string) string {
	return f.cfg.TopicPrefix + "/posts/" + ownerID
}

// Start connects to the broker. Reconnects are automatic afterwards.
func (f *MQTTFeed) Start(ctx context.Context) error {
	if f.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}

	clientID := f.cfg.ClientID
	if clientID == "" {
		clientID = "postsync-" + uuid.NewString()
	}

	opts := paho.NewClientOptions().
		AddBroker(f.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(f.onConnected).
		SetConnectionLostHandler(f.onConnectionLost).
		SetReconnectingHandler(f.onReconnecting)

	if f.cfg.Username != "" {
		opts.SetUsername(f.cfg.Username)
	}
	if f.cfg.Password != "" {
		opts.SetPassword(f.cfg.Password)
	}

	f.mu.Lock()
	f.client = f.newClient(opts)
	client := f.client
	f.mu.Unlock()

	if err := wait(ctx, client.Connect(), 30*time.Second); err != nil {
		// With connect retry the client keeps dialing until told to stop.
		client.Disconnect(0)
		return fmt.Errorf("connecting to broker: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (f *MQTTFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected && f.client != nil && f.client.IsConnected()
}

// Publish sends the event to its owner's topic at QoS 1.
func (f *MQTTFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	if !f.IsConnected() {
		return ErrNotConnected
	}
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return wait(ctx, f.client.Publish(f.Topic(ev.OwnerID), mqttQoS, false, payload), 10*time.Second)
}

// Subscribe joins the owner's topic, subscribing at the broker on first use.
func (f *MQTTFeed) Subscribe(ctx context.Context, ownerID string, h Handlers) (Subscription, error) {
	f.subscribeMu.Lock()
	defer f.subscribeMu.Unlock()

	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return nil, ErrFeedClosed
	}
	if !f.IsConnected() {
		return nil, ErrNotConnected
	}

	topic := f.Topic(ownerID)
	f.mu.RLock()
	_, shared := f.topics[topic]
	f.mu.RUnlock()

	if !shared {
		if err := wait(ctx, f.client.Subscribe(topic, mqttQoS, f.handleMessage), 10*time.Second); err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		f.log.Debug("subscribed to owner topic", "topic", topic)
	}

	s := &mqttSubscription{
		feed:    f,
		topic:   topic,
		ownerID: ownerID,
		box:     newMailbox(h, defaultQueueSize, f.log.With("owner_id", ownerID)),
	}

	f.mu.Lock()
	m, ok := f.topics[topic]
	if !ok {
		m = make(map[*mqttSubscription]struct{})
		f.topics[topic] = m
	}
	m[s] = struct{}{}
	f.mu.Unlock()

	return s, nil
}

// Close disconnects from the broker and reports the drop to every subscriber.
func (f *MQTTFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.connected = false
	topics := f.topics
	f.topics = make(map[string]map[*mqttSubscription]struct{})
	client := f.client
	f.mu.Unlock()

	for _, m := range topics {
		for s := range m {
			s.box.report(ErrFeedClosed)
		}
	}
	if client != nil {
		client.Disconnect(1000)
	}
	return nil
}

func (f *MQTTFeed) handleMessage(_ paho.Client, message paho.Message) {
	ev, err := DecodeChangeEvent(message.Payload())
	if err != nil {
		f.log.Debug("failed to decode change event", "topic", message.Topic(), "error", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for s := range f.topics[message.Topic()] {
		if s.ownerID == ev.OwnerID {
			s.box.offer(ev)
		}
	}
}

// onConnected runs for the first connection and every reconnect. With a
// clean session the broker forgets subscriptions, so they are renewed here.
func (f *MQTTFeed) onConnected(client paho.Client) {
	f.mu.Lock()
	f.connected = true
	topics := make([]string, 0, len(f.topics))
	for topic := range f.topics {
		topics = append(topics, topic)
	}
	f.mu.Unlock()

	f.log.Info("connected to MQTT broker", "broker", f.cfg.Broker)

	for _, topic := range topics {
		token := client.Subscribe(topic, mqttQoS, f.handleMessage)
		if token.WaitTimeout(10*time.Second) && token.Error() == nil {
			f.notify(topic, nil)
			continue
		}
		f.log.Error("resubscribe failed", "topic", topic, "error", token.Error())
	}
}

func (f *MQTTFeed) onConnectionLost(_ paho.Client, err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()

	f.log.Error("MQTT connection lost", "error", err)
	observability.SubscriptionErrors.WithLabelValues(f.Name()).Inc()

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, m := range f.topics {
		for s := range m {
			s.box.report(fmt.Errorf("%w: %v", ErrNotConnected, err))
		}
	}
}

func (f *MQTTFeed) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	f.log.Info("reconnecting to MQTT broker")
}

func (f *MQTTFeed) notify(topic string, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for s := range f.topics[topic] {
		s.box.report(err)
	}
}

// remove drops s and leaves the broker topic once nobody listens. It holds
// subscribeMu so a concurrent Subscribe for the same topic cannot have its
// fresh broker subscription undone by this unsubscribe.
func (f *MQTTFeed) remove(s *mqttSubscription) {
	f.subscribeMu.Lock()
	defer f.subscribeMu.Unlock()

	f.mu.Lock()
	m, ok := f.topics[s.topic]
	if ok {
		delete(m, s)
	}
	last := ok && len(m) == 0
	if last {
		delete(f.topics, s.topic)
	}
	client := f.client
	connected := f.connected
	f.mu.Unlock()

	if last && connected && client != nil {
		client.Unsubscribe(s.topic).WaitTimeout(5 * time.Second)
	}
}

type mqttSubscription struct {
	feed    *MQTTFeed
	topic   string
	ownerID string
	box     *mailbox
	once    sync.Once
}

func (s *mqttSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.feed.remove(s)
		s.box.stop()
	})
	return nil
}

// wait blocks until the token completes, ctx ends or the timeout passes.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timeout waiting for MQTT broker")
	}
}
