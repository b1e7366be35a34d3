package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/crandmck/trustmark/utils"
	"go.uber.org/zap"
)

var ErrModelNotReady = errors.New("models are not loaded yet")

// ModelLoadError 模型初始化失败
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("loading model %q: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// ModelSpec 描述一个待加载的模型
type ModelSpec struct {
	Name string
	// Backend 选择 Backends 中的加载器，例如 onnx 或 native
	Backend string
	Source  string
	Inputs  []string
	Outputs []string
}

// Loader 把 ModelSpec 打开为可运行的 Runner
type Loader interface {
	Open(ctx context.Context, spec ModelSpec) (Runner, error)
}

type LoaderFunc func(ctx context.Context, spec ModelSpec) (Runner, error)

func (f LoaderFunc) Open(ctx context.Context, spec ModelSpec) (Runner, error) {
	return f(ctx, spec)
}

// Backends 按 ModelSpec.Backend 分发到对应的加载器
type Backends map[string]Loader

func (b Backends) Open(ctx context.Context, spec ModelSpec) (Runner, error) {
	loader, ok := b[spec.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown inference backend %q", spec.Backend)
	}
	return loader.Open(ctx, spec)
}

// Registry 持有缩放模型与解码模型，加载一次后只读共享
type Registry struct {
	loader     Loader
	resizeSpec ModelSpec
	decodeSpec ModelSpec

	once sync.Once
	mu   sync.RWMutex
	done bool
	err  error

	resizer Runner
	decoder Runner
}

// NewRegistry 创建未加载的 Registry，需调用 Load 或 LoadAsync
func NewRegistry(loader Loader, resize, decode ModelSpec) *Registry {
	return &Registry{
		loader:     loader,
		resizeSpec: resize,
		decodeSpec: decode,
	}
}

// NewStaticRegistry 用已就绪的 Runner 创建 Registry
func NewStaticRegistry(resizer, decoder Runner) *Registry {
	r := &Registry{resizer: resizer, decoder: decoder, done: true}
	r.once.Do(func() {})
	return r
}

// Load 加载两个模型，只执行一次；失败记录为 *ModelLoadError
func (r *Registry) Load(ctx context.Context) error {
	r.once.Do(func() {
		resizer, err := r.open(ctx, r.resizeSpec)
		if err == nil {
			var decoder Runner
			decoder, err = r.open(ctx, r.decodeSpec)
			if err != nil {
				closeRunner(resizer)
			} else {
				r.mu.Lock()
				r.resizer, r.decoder = resizer, decoder
				r.mu.Unlock()
			}
		}

		r.mu.Lock()
		r.done = true
		r.err = err
		r.mu.Unlock()
	})
	return r.Ready()
}

// LoadAsync 后台加载模型，加载完成前 Ready 返回 ErrModelNotReady
func (r *Registry) LoadAsync(ctx context.Context) {
	go func() {
		if err := r.Load(ctx); err != nil {
			utils.Logger.Error("model registry failed to load", zap.Error(err))
		}
	}()
}

func (r *Registry) open(ctx context.Context, spec ModelSpec) (Runner, error) {
	startedAt := time.Now()
	runner, err := r.loader.Open(ctx, spec)
	if err != nil {
		utils.Logger.Error("could not load model",
			zap.String("model", spec.Name),
			zap.String("source", spec.Source),
			zap.Error(err))
		return nil, &ModelLoadError{Model: spec.Name, Err: err}
	}
	utils.Logger.Info("model loaded",
		zap.String("model", spec.Name),
		zap.Duration("duration", time.Since(startedAt)))
	return runner, nil
}

// Ready 返回 nil、ErrModelNotReady 或加载时的 *ModelLoadError
func (r *Registry) Ready() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.done {
		return ErrModelNotReady
	}
	return r.err
}

func (r *Registry) Resizer() (Runner, error) {
	if err := r.Ready(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resizer, nil
}

func (r *Registry) Decoder() (Runner, error) {
	if err := r.Ready(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.decoder, nil
}

// Close 释放实现了 io.Closer 的 Runner
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := errors.Join(closeRunner(r.resizer), closeRunner(r.decoder))
	r.resizer, r.decoder = nil, nil
	if r.err == nil {
		r.err = ErrModelNotReady
	}
	return err
}

func closeRunner(runner Runner) error {
	if c, ok := runner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
