// Package config - Relay configuration loaded from YAML with environment overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nvr-ai/go-vision-relay/capture"
	"github.com/nvr-ai/go-vision-relay/controller"
	"github.com/nvr-ai/go-vision-relay/inference"
	"github.com/nvr-ai/go-vision-relay/inference/detectors"
	"github.com/nvr-ai/go-vision-relay/notifier"
	"github.com/nvr-ai/go-vision-relay/wire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete relay configuration.
type Config struct {
	Source       capture.SourceConfig `yaml:"source"`
	Engine       detectors.Config     `yaml:"engine"`
	Destinations DestinationsConfig   `yaml:"destinations"`
	// Threshold is the minimum class probability reported.
	Threshold float32 `yaml:"threshold"`
	// LogFile is the optional CSV detection log.
	LogFile  string         `yaml:"log_file"`
	LogLevel string         `yaml:"log_level"`
	Profiler ProfilerConfig `yaml:"profiler"`
}

// DestinationsConfig lists where datagrams are sent.
type DestinationsConfig struct {
	// UDP holds host:port targets; a bare host uses the default port.
	UDP  []string            `yaml:"udp"`
	MQTT *notifier.MQTTConfig `yaml:"mqtt,omitempty"`
}

// ProfilerConfig controls the periodic stage report.
type ProfilerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine:    detectors.DefaultConfig(),
		Threshold: controller.DefaultThreshold,
		LogLevel:  "info",
		Profiler:  ProfilerConfig{Interval: 10 * time.Second},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - *Config: The configuration, not yet validated.
//   - error: An error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from RELAY_* environment variables.
//
// Arguments:
//   - lookup: Returns the value of a variable; os.LookupEnv in production.
//
// Returns:
//   - error: An error if a numeric variable does not parse.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var err error
	num := func(key string, bits int, set func(float64)) {
		v, ok := lookup(key)
		if !ok || v == "" || err != nil {
			return
		}
		f, perr := strconv.ParseFloat(v, bits)
		if perr != nil {
			err = errors.Wrapf(ErrInvalid, "%s=%q is not a number", key, v)
			return
		}
		set(f)
	}

	str("RELAY_SOURCE_PIPELINE", &c.Source.Pipeline)
	str("RELAY_SOURCE_FILE", &c.Source.File)
	str("RELAY_SOURCE_DIRECTORY", &c.Source.Directory)
	num("RELAY_SOURCE_DEVICE", 64, func(f float64) { c.Source.Device = int(f) })
	str("RELAY_DATA_CONFIG", &c.Engine.DataConfig)
	str("RELAY_NETWORK_CONFIG", &c.Engine.NetworkConfig)
	str("RELAY_WEIGHTS", &c.Engine.Weights)
	str("RELAY_MODEL", &c.Engine.Model)
	str("RELAY_ONNX_LIBRARY", &c.Engine.Library)
	if v, ok := lookup("RELAY_ENGINE"); ok && v != "" {
		c.Engine.Engine = inference.EngineType(v)
	}
	num("RELAY_THRESHOLD", 32, func(f float64) { c.Threshold = float32(f) })
	if v, ok := lookup("RELAY_UDP"); ok && v != "" {
		c.Destinations.UDP = splitList(v)
	}
	if v, ok := lookup("RELAY_MQTT_BROKER"); ok && v != "" {
		if c.Destinations.MQTT == nil {
			c.Destinations.MQTT = &notifier.MQTTConfig{Topic: "relay/detections"}
		}
		c.Destinations.MQTT.Broker = v
	}
	str("RELAY_LOG_FILE", &c.LogFile)
	str("RELAY_LOG_LEVEL", &c.LogLevel)
	return err
}

// UDPAddrs returns the UDP destinations with the default port filled in.
func (c *Config) UDPAddrs() []string {
	addrs := make([]string, 0, len(c.Destinations.UDP))
	for _, a := range c.Destinations.UDP {
		if _, _, err := net.SplitHostPort(a); err != nil {
			a = net.JoinHostPort(a, strconv.Itoa(wire.DefaultPort))
		}
		addrs = append(addrs, a)
	}
	return addrs
}

// Validate checks the configuration.
//
// Returns:
//   - error: An error wrapping ErrInvalid naming the first bad field.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrap(ErrInvalid, fmt.Sprintf(format, args...))
	}

	set := 0
	for _, s := range []string{c.Source.Pipeline, c.Source.File, c.Source.Directory} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		return invalid("source: only one of pipeline, file and directory may be set")
	}
	if c.Source.FrameRate < 0 {
		return invalid("source.frame_rate must not be negative")
	}

	switch c.Engine.Engine {
	case inference.EngineDarknet:
		if c.Engine.DataConfig == "" || c.Engine.NetworkConfig == "" || c.Engine.Weights == "" {
			return invalid("engine: darknet needs data_config, network_config and weights")
		}
		if c.Engine.InputWidth <= 0 || c.Engine.InputHeight <= 0 {
			return invalid("engine: input size %dx%d", c.Engine.InputWidth, c.Engine.InputHeight)
		}
	case inference.EngineONNX:
		if c.Engine.Model == "" || c.Engine.DataConfig == "" {
			return invalid("engine: onnx needs model and data_config")
		}
	default:
		return invalid("engine: unknown engine %q", c.Engine.Engine)
	}
	if c.Engine.NMSThreshold < 0 || c.Engine.NMSThreshold >= 1 {
		return invalid("engine.nms_threshold %v outside [0,1)", c.Engine.NMSThreshold)
	}
	if c.Engine.AverageFrames < 1 {
		return invalid("engine.average_frames must be at least 1")
	}

	if c.Threshold < 0 || c.Threshold >= 1 {
		return invalid("threshold %v outside [0,1)", c.Threshold)
	}

	for _, a := range c.UDPAddrs() {
		if _, port, err := net.SplitHostPort(a); err != nil || port == "" {
			return invalid("destinations.udp: bad address %q", a)
		}
	}
	if m := c.Destinations.MQTT; m != nil {
		if m.Broker == "" || m.Topic == "" {
			return invalid("destinations.mqtt needs broker and topic")
		}
		if m.QoS > 2 {
			return invalid("destinations.mqtt.qos %d", m.QoS)
		}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level %q", c.LogLevel)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
