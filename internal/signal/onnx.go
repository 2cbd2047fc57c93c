package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// featureLen is the classifier input width: 256 byte frequencies plus normalized entropy.
const featureLen = 257

// ONNXClassifier scores files with an externally trained ransomware model.
// The model takes a [1,257] float32 feature vector and emits one logit.
type ONNXClassifier struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	mu sync.Mutex
}

// LoadONNXClassifier initializes the runtime and allocates a session for cfg.ModelPath.
func LoadONNXClassifier(cfg ONNXConfig) (*ONNXClassifier, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx: model_path is empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx: model file missing at %s: %w", cfg.ModelPath, err)
	}

	lib := cfg.LibraryPath
	if lib == "" {
		lib = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
		}
	}

	inName, outName := cfg.InputName, cfg.OutputName
	if inName == "" {
		inName = "features"
	}
	if outName == "" {
		outName = "logits"
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, featureLen))
	if err != nil {
		return nil, fmt.Errorf("onnx: allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx: allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inName},
		[]string{outName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &ONNXClassifier{session: session, input: input, output: output}, nil
}

// Name implements Extractor.
func (c *ONNXClassifier) Name() string { return "classifier" }

// Score implements Extractor.
func (c *ONNXClassifier) Score(ctx context.Context, in Input) (float64, error) {
	if in.Data == nil {
		return 0, &ExtractionError{Extractor: c.Name(), Path: in.Path, Err: errors.New("no content")}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	features := Features(in.Data)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Collections run detached from their scan and may outlive Close.
	if c.session == nil {
		return 0, &ExtractionError{Extractor: c.Name(), Path: in.Path, Err: errors.New("classifier closed")}
	}
	copy(c.input.GetData(), features[:])
	if err := c.session.Run(); err != nil {
		return 0, &ExtractionError{Extractor: c.Name(), Path: in.Path, Err: fmt.Errorf("onnx run: %w", err)}
	}
	logit := float64(c.output.GetData()[0])
	return clamp01(1 / (1 + math.Exp(-logit))), nil
}

// Close releases the session and tensors.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.session != nil {
		errs = append(errs, c.session.Destroy())
	}
	if c.input != nil {
		errs = append(errs, c.input.Destroy())
	}
	if c.output != nil {
		errs = append(errs, c.output.Destroy())
	}
	c.session, c.input, c.output = nil, nil, nil
	return errors.Join(errs...)
}

// Features builds the classifier feature vector: relative byte frequencies
// followed by entropy scaled to [0,1].
func Features(data []byte) [featureLen]float32 {
	var f [featureLen]float32
	if len(data) == 0 {
		return f
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float32(len(data))
	for i, n := range counts {
		f[i] = float32(n) / total
	}
	f[256] = float32(Entropy(data) / 8)
	return f
}
