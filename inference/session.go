package inference

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Session represents a model session from the onnxruntime.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Output != nil {
		s.Output.Destroy()
		s.Output = nil
	}
	if s.Session != nil {
		if err := s.Session.Destroy(); err != nil {
			return errors.Wrap(err, "destroy ORT session")
		}
		s.Session = nil
	}
	return nil
}

var (
	environmentOnce sync.Once
	environmentErr  error
)

// InitializeEnvironment loads the onnxruntime shared library once per process.
//
// Arguments:
//   - libPath: Path to the onnxruntime shared library; empty selects the platform default.
//
// Returns:
//   - error: An error if the library is missing or fails to initialize.
func InitializeEnvironment(libPath string) error {
	environmentOnce.Do(func() {
		if libPath == "" {
			libPath = SharedLibPath()
		}
		if _, err := os.Stat(libPath); err != nil {
			environmentErr = errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			environmentErr = errors.Wrap(err, "initialize ORT environment")
		}
	})
	return environmentErr
}

// SharedLibPath returns the default onnxruntime library path for the current platform.
func SharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "./third_party/onnxruntime_arm64.so"
	}
	return "./third_party/onnxruntime.so"
}

// ExecutionProvider selects the onnxruntime backend.
type ExecutionProvider string

const (
	// ProviderCPU runs on the default CPU provider.
	ProviderCPU ExecutionProvider = "cpu"
	// ProviderCUDA runs on NVIDIA CUDA.
	ProviderCUDA ExecutionProvider = "cuda"
	// ProviderCoreML runs on Apple CoreML.
	ProviderCoreML ExecutionProvider = "coreml"
	// ProviderOpenVINO runs on Intel OpenVINO.
	ProviderOpenVINO ExecutionProvider = "openvino"
)

// NewSessionOptions creates session options for the given execution provider.
// The caller destroys the returned options once the session is created.
//
// Arguments:
//   - provider: The execution provider; empty selects the CPU.
//
// Returns:
//   - *ort.SessionOptions: The session options.
//   - error: An error if the provider is unknown or cannot be enabled.
func NewSessionOptions(provider ExecutionProvider) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create ORT session options")
	}
	options.SetIntraOpNumThreads(4)
	options.SetInterOpNumThreads(2)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	switch provider {
	case "", ProviderCPU:
	case ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err == nil {
			err = cuda.Update(map[string]string{"device_id": "0"})
			if err == nil {
				err = options.AppendExecutionProviderCUDA(cuda)
			}
			cuda.Destroy()
		}
		if err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "enable CUDA")
		}
	case ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "enable CoreML")
		}
	case ProviderOpenVINO:
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type": "CPU",
			"precision":   "FP32",
		}); err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "enable OpenVINO")
		}
	default:
		options.Destroy()
		return nil, errors.Errorf("unknown execution provider %q", provider)
	}
	return options, nil
}
