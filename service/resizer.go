package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/crandmck/trustmark/inference"
	"github.com/crandmck/trustmark/tensor"
	"github.com/crandmck/trustmark/utils"
	"go.uber.org/zap"
)

var (
	ErrResizeFailed    = errors.New("resize model failed")
	ErrInferenceFailed = errors.New("decoder model failed")
	ErrBusy            = errors.New("decode queue is full")
)

// ResizeSquare 通过缩放模型把 (1,3,H,W) 缩放为 (1,3,T,T)
func ResizeSquare(ctx context.Context, runner inference.Runner, input *tensor.Tensor, targetSize int) (*tensor.Tensor, error) {
	shape := input.Shape()
	scales, err := tensor.ComputeScaleVector(targetSize, targetSize, shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResizeFailed, err)
	}
	for i, dim := range shape[2:] {
		if _, exact := tensor.SolveScaleExact(int(dim), targetSize); !exact {
			utils.Logger.Warn("scale search did not converge",
				zap.Int("axis", i+2),
				zap.Int64("original", dim),
				zap.Int("target", targetSize),
				zap.Float32("scale", scales.Float32s()[i+2]))
		}
	}

	target, err := tensor.NewInt64([]int64{1}, []int64{int64(targetSize)})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResizeFailed, err)
	}

	outputs, err := runner.Run(ctx, map[string]*tensor.Tensor{
		inference.ResizeInput:      input,
		inference.ResizeScales:     scales,
		inference.ResizeTargetSize: target,
	})
	if err == nil {
		var out *tensor.Tensor
		out, err = inference.Output(outputs, inference.ResizeOutput)
		if err == nil {
			size := int64(targetSize)
			if out.DataType() == tensor.Float32 && out.HasShape(1, 3, size, size) {
				return out, nil
			}
			err = fmt.Errorf("unexpected output %v", out)
		}
	}

	utils.Logger.Error("resize failed",
		zap.Int64s("input_shape", shape),
		zap.Int("target", targetSize),
		zap.Error(err))
	return nil, fmt.Errorf("%w: %w", ErrResizeFailed, err)
}

// Threshold 逻辑值 >= 0 记为 1
func Threshold(logits []float32) []bool {
	bits := make([]bool, len(logits))
	for i, v := range logits {
		bits[i] = v >= 0
	}
	return bits
}
