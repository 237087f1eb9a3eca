package detectors

import (
	"github.com/nvr-ai/go-vision-relay/inference"
	"github.com/pkg/errors"
)

// New creates the engine selected by cfg.Engine.
//
// Arguments:
//   - cfg: The engine configuration.
//
// Returns:
//   - inference.Engine: The loaded engine.
//   - error: An error if the engine is unknown or fails to load.
func New(cfg Config) (inference.Engine, error) {
	switch cfg.Engine {
	case inference.EngineDarknet, "":
		return NewDarknetDetector(cfg)
	case inference.EngineONNX:
		return NewONNXDetector(cfg)
	}
	return nil, errors.Errorf("unknown engine %q, want one of %v", cfg.Engine, inference.Engines)
}
