package notifier

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nvr-ai/go-vision-relay/models"
	"github.com/nvr-ai/go-vision-relay/wire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockDestination records payloads and fails when err is set.
type MockDestination struct {
	name     string
	err      error
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
}

func (m *MockDestination) Name() string { return m.name }

func (m *MockDestination) Send(_ context.Context, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, append([]byte(nil), payload...))
	return nil
}

func (m *MockDestination) Close() error {
	m.closed = true
	return nil
}

// failingWriter fails every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func twoObjects() models.Ranked {
	var r models.Ranked
	r[0] = models.Object{Type: models.ObjectCube, X: 0.5, Y: 0.25, Width: 0.1, Height: 0.2, Probability: 0.9}
	r[1] = models.Object{Type: models.ObjectScaleRed, X: 0.75, Y: 0.5, Width: 0.05, Height: 0.05, Probability: 0.5}
	return r
}

func TestNotifyAllDestinations(t *testing.T) {
	logger, _ := test.NewNullLogger()
	a, b := &MockDestination{name: "a"}, &MockDestination{name: "b"}
	n, err := New(logrus.NewEntry(logger), nil, a, b)
	require.NoError(t, err)

	ts := time.UnixMicro(1234567)
	require.NoError(t, n.Notify(context.Background(), 7, ts, twoObjects()))

	for _, d := range []*MockDestination{a, b} {
		require.Len(t, d.payloads, 1)
		dg, err := wire.Decode(d.payloads[0])
		require.NoError(t, err)
		assert.Equal(t, uint32(7), dg.Frame)
		assert.Equal(t, uint64(1234567), dg.Timestamp)
		assert.Equal(t, 2, dg.Objects.Len())
	}
	assert.Equal(t, Stats{Frames: 1, Sent: 2}, n.Stats())
}

func TestNotifyIsolatesFailingDestination(t *testing.T) {
	logger, hook := test.NewNullLogger()
	bad := &MockDestination{name: "bad", err: errors.New("unreachable")}
	good := &MockDestination{name: "good"}
	n, err := New(logrus.NewEntry(logger), nil, bad, good)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), 1, time.Now(), models.Ranked{}))

	assert.Len(t, good.payloads, 1)
	assert.Equal(t, Stats{Frames: 1, Sent: 1, Failures: 1}, n.Stats())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "bad", entry.Data["destination"])
}

func TestDetectionLog(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var buf bytes.Buffer
	n, err := New(logrus.NewEntry(logger), &buf)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), 1, time.UnixMicro(100), twoObjects()))
	require.NoError(t, n.Notify(context.Background(), 2, time.UnixMicro(200), models.Ranked{}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "frame_number,timestamp_us,type,x,y,width,height,probability", lines[0])
	assert.Equal(t, "1,100,1,0.500000,0.250000,0.100000,0.200000,0.900000", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "1,100,4,"))
	assert.Equal(t, "2,200,0,0.000000,0.000000,0.000000,0.000000,0.000000", lines[3])
}

func TestDetectionLogWriteFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := New(logrus.NewEntry(logger), failingWriter{})
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	a := &MockDestination{name: "a"}
	n, err := New(logrus.NewEntry(logger), nil, a)
	require.NoError(t, err)
	require.NoError(t, n.Close())
	assert.True(t, a.closed)
}

func TestUDPDestination(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	d, err := DialUDP(pc.LocalAddr().String())
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, "udp://"+pc.LocalAddr().String(), d.Name())

	payload := wire.Encode(3, time.UnixMicro(42), twoObjects())
	require.NoError(t, d.Send(context.Background(), payload))

	buf := make([]byte, 1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestDialUDPBadAddress(t *testing.T) {
	_, err := DialUDP("not an address")
	assert.Error(t, err)
}

// MockToken is an MQTT token. A token built with hung never completes.
type MockToken struct {
	err  error
	done chan struct{}
}

func newMockToken(err error, hung bool) *MockToken {
	t := &MockToken{err: err, done: make(chan struct{})}
	if !hung {
		close(t.done)
	}
	return t
}

func (t *MockToken) Wait() bool                     { <-t.done; return true }
func (t *MockToken) WaitTimeout(time.Duration) bool { return true }
func (t *MockToken) Done() <-chan struct{}          { return t.done }
func (t *MockToken) Error() error                   { return t.err }

// MockClient overrides the methods the destination uses.
type MockClient struct {
	mqtt.Client
	open bool
	hung bool

	mu        sync.Mutex
	err       error
	topic     string
	qos       byte
	payloads  [][]byte
	disconned bool
}

func (c *MockClient) IsConnectionOpen() bool { return c.open }

func (c *MockClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic, c.qos = topic, qos
	c.payloads = append(c.payloads, payload.([]byte))
	return newMockToken(c.err, c.hung)
}

func (c *MockClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconned = true
}

func (c *MockClient) published() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestMQTTDestination(t *testing.T) {
	logger, hook := test.NewNullLogger()
	client := &MockClient{open: true}
	d := newMQTTDestination(client, "relay/detections", 1, logrus.NewEntry(logger))
	assert.Equal(t, "mqtt:relay/detections", d.Name())

	require.NoError(t, d.Send(context.Background(), []byte{1, 2, 3}))
	require.Eventually(t, func() bool { return client.published() == 1 }, time.Second, time.Millisecond)
	client.mu.Lock()
	assert.Equal(t, "relay/detections", client.topic)
	assert.Equal(t, byte(1), client.qos)
	assert.Equal(t, []byte{1, 2, 3}, client.payloads[0])
	client.err = errors.New("broker rejected")
	client.mu.Unlock()

	require.NoError(t, d.Send(context.Background(), []byte{1}), "rejection arrives after Send returns")
	require.Eventually(t, func() bool { return d.Failures() == 1 }, time.Second, time.Millisecond)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "mqtt:relay/detections", entry.Data["destination"])

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	client.mu.Lock()
	assert.True(t, client.disconned)
	client.mu.Unlock()
}

func TestMQTTDestinationDisconnected(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := newMQTTDestination(&MockClient{}, "t", 0, logrus.NewEntry(logger))
	assert.Error(t, d.Send(context.Background(), []byte{1}))
}

func TestNotifyDoesNotWaitForUnconfirmedPublishes(t *testing.T) {
	logger, _ := test.NewNullLogger()
	entry := logrus.NewEntry(logger)
	broker := newMQTTDestination(&MockClient{open: true, hung: true}, "relay/detections", 1, entry)
	defer broker.Close()
	robot := &MockDestination{name: "robot"}
	n, err := New(entry, nil, broker, robot)
	require.NoError(t, err)

	const frames = MaxUnconfirmed + 2
	start := time.Now()
	for frame := uint32(1); frame <= frames; frame++ {
		require.NoError(t, n.Notify(context.Background(), frame, time.Now(), twoObjects()))
	}
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 250*time.Millisecond)
	robot.mu.Lock()
	assert.Len(t, robot.payloads, frames)
	robot.mu.Unlock()
	assert.Equal(t, Stats{Frames: frames, Sent: frames + MaxUnconfirmed, Failures: 2}, n.Stats())
}
