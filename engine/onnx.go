// Package engine wraps ONNX Runtime sessions behind the pipeline's
// opaque inference contract: fixed-shape NHWC input in, declared-shape
// output tensors out.
package engine

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
)

// Initialize points ONNX Runtime at its shared library and brings the
// environment up. Call once at startup, paired with Shutdown.
func Initialize(libraryPath string) error {
	ort.SetSharedLibraryPath(libraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx environment: %w", err)
	}
	return nil
}

func Shutdown() {
	ort.DestroyEnvironment()
}

// Session is one loaded model with preallocated input and output
// tensors. Run is serialized internally, so a Session satisfies the
// pipeline's concurrent-Engine contract.
type Session struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	shapes  [][]int64
}

// NewSession loads the model described by spec with a (1, tileSize,
// tileSize, 3) input tensor.
func NewSession(spec Spec, tileSize int) (*Session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	inputShape := ort.NewShape(1, int64(tileSize), int64(tileSize), 3)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputNames := make([]string, 0, len(spec.Outputs))
	outputTensors := make([]*ort.Tensor[float32], 0, len(spec.Outputs))
	outputArbitrary := make([]ort.ArbitraryTensor, 0, len(spec.Outputs))
	shapes := make([][]int64, 0, len(spec.Outputs))
	destroyAll := func() {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
	}

	for _, out := range spec.Outputs {
		tensor, err := ort.NewEmptyTensor[float32](ort.NewShape(out.Shape...))
		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("create output tensor %s: %w", out.Name, err)
		}
		outputNames = append(outputNames, out.Name)
		outputTensors = append(outputTensors, tensor)
		outputArbitrary = append(outputArbitrary, tensor)
		shapes = append(shapes, append([]int64(nil), out.Shape...))
	}

	session, err := ort.NewAdvancedSession(
		spec.Path,
		[]string{spec.Input},
		outputNames,
		[]ort.ArbitraryTensor{inputTensor},
		outputArbitrary,
		options,
	)
	if err != nil {
		destroyAll()
		return nil, fmt.Errorf("create session for %s: %w", spec.Name, err)
	}

	return &Session{
		session: session,
		input:   inputTensor,
		outputs: outputTensors,
		shapes:  shapes,
	}, nil
}

// Run executes one inference. The returned RawOutputs own freshly copied
// buffers; nothing is shared with later calls.
func (s *Session) Run(input []float32) ([]models.RawOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input tensor: got len %d, want %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	results := make([]models.RawOutput, len(s.outputs))
	for i, tensor := range s.outputs {
		data := tensor.GetData()
		buf := make([]float32, len(data))
		copy(buf, data)
		results[i] = models.RawOutput{
			Shape: append([]int64(nil), s.shapes[i]...),
			Data:  buf,
		}
	}
	return results, nil
}

func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	for _, t := range s.outputs {
		t.Destroy()
	}
	s.outputs = nil
}
