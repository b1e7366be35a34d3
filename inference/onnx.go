package inference

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/crandmck/trustmark/tensor"
	ort "github.com/yalue/onnxruntime_go"
)

// Fetcher 把模型来源解析为本地文件路径
type Fetcher interface {
	Fetch(ctx context.Context, source string) (string, error)
}

var (
	ortOnce sync.Once
	ortErr  error
)

// initEnvironment 进程内只初始化一次 ONNX Runtime
func initEnvironment(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = fmt.Errorf("initializing onnxruntime: %w", err)
		}
	})
	return ortErr
}

// ONNXLoader 使用 ONNX Runtime 打开模型
type ONNXLoader struct {
	fetcher        Fetcher
	libraryPath    string
	intraOpThreads int
}

func NewONNXLoader(fetcher Fetcher, libraryPath string, intraOpThreads int) *ONNXLoader {
	return &ONNXLoader{
		fetcher:        fetcher,
		libraryPath:    libraryPath,
		intraOpThreads: intraOpThreads,
	}
}

func (l *ONNXLoader) Open(ctx context.Context, spec ModelSpec) (Runner, error) {
	if err := initEnvironment(l.libraryPath); err != nil {
		return nil, err
	}

	modelPath, err := l.fetcher.Fetch(ctx, spec.Source)
	if err != nil {
		return nil, fmt.Errorf("fetching model: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer options.Destroy()
	if l.intraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(l.intraOpThreads); err != nil {
			return nil, fmt.Errorf("setting intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, spec.Inputs, spec.Outputs, options)
	if err != nil {
		return nil, fmt.Errorf("creating session for %q: %w", modelPath, err)
	}

	return &onnxRunner{
		name:    spec.Name,
		session: session,
		inputs:  slices.Clone(spec.Inputs),
		outputs: slices.Clone(spec.Outputs),
	}, nil
}

// onnxRunner 包装 DynamicAdvancedSession，Run 可并发调用
type onnxRunner struct {
	name    string
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
}

var _ Runner = (*onnxRunner)(nil)

func (r *onnxRunner) Run(ctx context.Context, feeds map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs := make([]ort.Value, len(r.inputs))
	defer destroyValues(inputs)
	for i, name := range r.inputs {
		t, ok := feeds[name]
		if !ok || t == nil {
			return nil, fmt.Errorf("model %s: missing input %q", r.name, name)
		}
		v, err := toOrtValue(t)
		if err != nil {
			return nil, fmt.Errorf("model %s: input %q: %w", r.name, name, err)
		}
		inputs[i] = v
	}

	// 输出为 nil，由 ONNX Runtime 按模型元数据分配
	outputs := make([]ort.Value, len(r.outputs))
	defer destroyValues(outputs)

	if err := r.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("model %s: run: %w", r.name, err)
	}

	results := make(map[string]*tensor.Tensor, len(r.outputs))
	for i, name := range r.outputs {
		t, err := fromOrtValue(outputs[i])
		if err != nil {
			return nil, fmt.Errorf("model %s: output %q: %w", r.name, name, err)
		}
		results[name] = t
	}
	return results, nil
}

func (r *onnxRunner) Close() error {
	return r.session.Destroy()
}

func toOrtValue(t *tensor.Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape()...)
	switch t.DataType() {
	case tensor.Float32:
		return ort.NewTensor(shape, slices.Clone(t.Float32s()))
	case tensor.Int64:
		return ort.NewTensor(shape, slices.Clone(t.Int64s()))
	default:
		return nil, fmt.Errorf("unsupported tensor type %v", t.DataType())
	}
}

// fromOrtValue 复制输出数据，原 Value 随后被销毁
func fromOrtValue(v ort.Value) (*tensor.Tensor, error) {
	switch v := v.(type) {
	case *ort.Tensor[float32]:
		return tensor.NewFloat32([]int64(v.GetShape()), slices.Clone(v.GetData()))
	case *ort.Tensor[int64]:
		return tensor.NewInt64([]int64(v.GetShape()), slices.Clone(v.GetData()))
	case nil:
		return nil, fmt.Errorf("output was not allocated")
	default:
		return nil, fmt.Errorf("unsupported output value %T", v)
	}
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			_ = v.Destroy()
		}
	}
}
