package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/go-vision-relay/inference"
	"github.com/nvr-ai/go-vision-relay/notifier"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDarknet() *Config {
	cfg := Default()
	cfg.Engine.DataConfig = "robot.data"
	cfg.Engine.NetworkConfig = "robot.cfg"
	cfg.Engine.Weights = "robot.weights"
	return cfg
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, float32(0.24), cfg.Threshold)
	assert.Equal(t, inference.EngineDarknet, cfg.Engine.Engine)
	assert.Equal(t, float32(0.4), cfg.Engine.NMSThreshold)
	assert.Equal(t, 3, cfg.Engine.AverageFrames)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  pipeline: "v4l2src ! videoconvert ! appsink"
engine:
  engine: onnx
  model: yolov8n.onnx
  data_config: robot.data
  provider: coreml
destinations:
  udp: ["10.15.19.2", "127.0.0.1:6000"]
  mqtt:
    broker: tcp://localhost:1883
    topic: robot/vision
threshold: 0.5
log_file: detections.csv
profiler:
  enabled: true
  interval: 30s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "v4l2src ! videoconvert ! appsink", cfg.Source.Pipeline)
	assert.Equal(t, inference.EngineONNX, cfg.Engine.Engine)
	assert.Equal(t, inference.ProviderCoreML, cfg.Engine.Provider)
	assert.Equal(t, 3, cfg.Engine.AverageFrames, "unset fields keep defaults")
	assert.Equal(t, float32(0.5), cfg.Threshold)
	assert.Equal(t, []string{"10.15.19.2:5810", "127.0.0.1:6000"}, cfg.UDPAddrs())
	assert.Equal(t, "robot/vision", cfg.Destinations.MQTT.Topic)
	assert.Equal(t, 30*time.Second, cfg.Profiler.Interval)
	assert.True(t, cfg.Profiler.Enabled)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: [1, 2"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := validDarknet()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"RELAY_SOURCE_DIRECTORY": "/tmp/frames",
		"RELAY_THRESHOLD":        "0.3",
		"RELAY_UDP":              "10.0.0.1, 10.0.0.2:7000",
		"RELAY_MQTT_BROKER":      "tcp://broker:1883",
		"RELAY_LOG_LEVEL":        "debug",
		"RELAY_WEIGHTS":          "",
	})))

	assert.Equal(t, "/tmp/frames", cfg.Source.Directory)
	assert.InDelta(t, 0.3, cfg.Threshold, 1e-6)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2:7000"}, cfg.Destinations.UDP)
	assert.Equal(t, &notifier.MQTTConfig{Broker: "tcp://broker:1883", Topic: "relay/detections"}, cfg.Destinations.MQTT)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "robot.weights", cfg.Engine.Weights, "empty values do not override")
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvBadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{"RELAY_THRESHOLD": "high"}))
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"two sources", func(c *Config) { c.Source.File = "a.mp4"; c.Source.Directory = "frames" }},
		{"negative frame rate", func(c *Config) { c.Source.FrameRate = -1 }},
		{"darknet without weights", func(c *Config) { c.Engine.Weights = "" }},
		{"zero input size", func(c *Config) { c.Engine.InputWidth = 0 }},
		{"onnx without model", func(c *Config) { c.Engine.Engine = inference.EngineONNX }},
		{"onnx without data config", func(c *Config) {
			c.Engine.Engine = inference.EngineONNX
			c.Engine.Model = "yolov8n.onnx"
			c.Engine.DataConfig = ""
		}},
		{"unknown engine", func(c *Config) { c.Engine.Engine = "tflite" }},
		{"nms out of range", func(c *Config) { c.Engine.NMSThreshold = 1 }},
		{"no averaging window", func(c *Config) { c.Engine.AverageFrames = 0 }},
		{"threshold out of range", func(c *Config) { c.Threshold = 1.5 }},
		{"mqtt without topic", func(c *Config) { c.Destinations.MQTT = &notifier.MQTTConfig{Broker: "tcp://b:1883"} }},
		{"mqtt qos", func(c *Config) {
			c.Destinations.MQTT = &notifier.MQTTConfig{Broker: "tcp://b:1883", Topic: "t", QoS: 3}
		}},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDarknet()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestValidateDefaultsNeedModelFiles(t *testing.T) {
	assert.True(t, errors.Is(Default().Validate(), ErrInvalid))
	assert.NoError(t, validDarknet().Validate())
}
