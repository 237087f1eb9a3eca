package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MQTTConfig configures the MQTT destination.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker string `yaml:"broker"`
	// Topic receives the raw datagram bytes.
	Topic string `yaml:"topic"`
	// ClientID defaults to a random "relay-<uuid>".
	ClientID string `yaml:"client_id"`
	// QoS is the publish quality of service.
	QoS byte `yaml:"qos"`
}

// MaxUnconfirmed bounds the publishes awaiting broker confirmation. Sends
// beyond it fail immediately.
const MaxUnconfirmed = 8

// MQTTDestination publishes each datagram to a broker topic. Send does not
// wait for the broker; confirmation failures are logged and counted later.
type MQTTDestination struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	log     *logrus.Entry

	pending   atomic.Int32
	failures  atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

// ConnectMQTT connects to the broker. The client reconnects on its own after
// a lost connection; publishes fail while it is down.
//
// Arguments:
//   - cfg: The broker configuration.
//   - log: The logger for connection events.
//
// Returns:
//   - *MQTTDestination: The connected destination.
//   - error: An error if the broker cannot be reached.
func ConnectMQTT(cfg MQTTConfig, log *logrus.Entry) (*MQTTDestination, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "relay-" + uuid.NewString()
	}
	log = log.WithFields(logrus.Fields{"broker": cfg.Broker, "client_id": clientID})

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetWriteTimeout(time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, errors.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "mqtt connect to %s", cfg.Broker)
	}
	return newMQTTDestination(client, cfg.Topic, cfg.QoS, log), nil
}

func newMQTTDestination(client mqtt.Client, topic string, qos byte, log *logrus.Entry) *MQTTDestination {
	return &MQTTDestination{
		client:  client,
		topic:   topic,
		qos:     qos,
		timeout: time.Second,
		log:     log.WithField("destination", "mqtt:"+topic),
		done:    make(chan struct{}),
	}
}

// Name implements Destination.
func (m *MQTTDestination) Name() string {
	return "mqtt:" + m.topic
}

// Send implements Destination. It returns once the publish is queued.
func (m *MQTTDestination) Send(_ context.Context, payload []byte) error {
	if !m.client.IsConnectionOpen() {
		return errors.New("mqtt not connected")
	}
	if m.pending.Add(1) > MaxUnconfirmed {
		m.pending.Add(-1)
		return errors.Errorf("%d publishes to %s awaiting confirmation", MaxUnconfirmed, m.topic)
	}
	go m.publish(payload)
	return nil
}

func (m *MQTTDestination) publish(payload []byte) {
	defer m.pending.Add(-1)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	token := m.client.Publish(m.topic, m.qos, false, payload)
	var err error
	select {
	case <-token.Done():
		err = token.Error()
	case <-timer.C:
		err = errors.Errorf("publish to %s not confirmed within %s", m.topic, m.timeout)
	case <-m.done:
		return
	}
	if err != nil {
		m.failures.Add(1)
		m.log.WithError(err).Warn("mqtt publish failed")
	}
}

// Failures returns the number of publishes the broker did not confirm.
func (m *MQTTDestination) Failures() uint64 {
	return m.failures.Load()
}

// Close implements Destination.
func (m *MQTTDestination) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.client.Disconnect(250)
	})
	return nil
}
