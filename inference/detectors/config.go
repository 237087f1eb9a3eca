// Package detectors - Darknet and ONNX implementations of inference.Engine.
package detectors

import (
	"image"

	"github.com/nvr-ai/go-vision-relay/inference"
)

// Config represents the configuration of an inference engine.
type Config struct {
	// Engine selects the backend.
	Engine inference.EngineType `yaml:"engine"`

	// DataConfig is the darknet data file naming the class count and class-name list.
	DataConfig string `yaml:"data_config"`
	// NetworkConfig is the darknet network definition (.cfg).
	NetworkConfig string `yaml:"network_config"`
	// Weights is the darknet weight file.
	Weights string `yaml:"weights"`
	// Model is the ONNX model file.
	Model string `yaml:"model"`
	// Library is the onnxruntime shared library; empty selects the platform default.
	Library string `yaml:"library"`

	// InputWidth and InputHeight are the network input size.
	InputWidth  int `yaml:"input_width"`
	InputHeight int `yaml:"input_height"`

	// Provider selects the onnxruntime execution provider.
	Provider inference.ExecutionProvider `yaml:"provider"`

	// GPU selects the CUDA backend for the darknet engine.
	GPU bool `yaml:"gpu"`

	// NMSThreshold is the IoU above which weaker boxes of a class are
	// suppressed. Zero disables suppression.
	NMSThreshold float32 `yaml:"nms_threshold"`

	// AverageFrames is the number of consecutive raw outputs averaged before
	// boxes are extracted. One disables averaging.
	AverageFrames int `yaml:"average_frames"`
}

// DefaultConfig returns a darknet configuration with the relay's defaults.
//
// Returns:
//   - Config: The default configuration.
func DefaultConfig() Config {
	return Config{
		Engine:        inference.EngineDarknet,
		InputWidth:    416,
		InputHeight:   416,
		NMSThreshold:  0.4,
		AverageFrames: 3,
	}
}

// Size returns the network input size.
func (c Config) Size() image.Point {
	return image.Point{X: c.InputWidth, Y: c.InputHeight}
}
