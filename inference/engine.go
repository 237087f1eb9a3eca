// Package inference - Inference engine interface shared by the relay's detectors.
package inference

import (
	"context"

	"github.com/nvr-ai/go-vision-relay/frames"
	"github.com/nvr-ai/go-vision-relay/models/postprocess"
	"github.com/pkg/errors"
)

// ErrUnsupportedOutput is returned when a network's output layer cannot be
// interpreted as per-location detections. It is not recoverable.
var ErrUnsupportedOutput = errors.New("unsupported network output layer")

// Engine turns a frame into raw per-location detections.
type Engine interface {
	// Infer runs the network on frame. The frame stays owned by the caller.
	Infer(ctx context.Context, frame *frames.Frame) ([]postprocess.Detection, error)
	// Classes returns the class names in class index order.
	Classes() []string
	// Close releases the network.
	Close() error
}

// EngineType is the type of the engine
type EngineType string

const (
	// EngineDarknet runs darknet cfg/weights networks through the OpenCV DNN module.
	EngineDarknet EngineType = "darknet"
	// EngineONNX runs ONNX exports through the onnxruntime library.
	EngineONNX EngineType = "onnx"
)

// Engines is a list of all supported engines
var Engines = []EngineType{EngineDarknet, EngineONNX}
