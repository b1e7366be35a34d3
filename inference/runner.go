package inference

import (
	"context"
	"fmt"

	"github.com/crandmck/trustmark/tensor"
)

// 模型输入输出名称，与 resizer.onnx / decoder_*.onnx 保持一致
const (
	ResizeInput      = "X"
	ResizeScales     = "scales"
	ResizeTargetSize = "target_size"
	ResizeOutput     = "Y"

	DecodeInput  = "image"
	DecodeOutput = "output"
)

// Runner 推理能力接口：命名张量输入，命名张量输出
type Runner interface {
	Run(ctx context.Context, feeds map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error)
}

// RunnerFunc 让普通函数实现 Runner
type RunnerFunc func(ctx context.Context, feeds map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error)

func (f RunnerFunc) Run(ctx context.Context, feeds map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	return f(ctx, feeds)
}

// Output 取出指定名称的输出张量
func Output(outputs map[string]*tensor.Tensor, name string) (*tensor.Tensor, error) {
	t, ok := outputs[name]
	if !ok || t == nil {
		return nil, fmt.Errorf("model output %q not found", name)
	}
	return t, nil
}
