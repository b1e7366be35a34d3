package tensor

import (
	"fmt"
	"math"
)

const (
	// ScaleTolerance 缩放算子计算输出尺寸时使用的容差
	ScaleTolerance = 1e-12
	// MaxScaleIterations 二分查找的迭代上限
	MaxScaleIterations = 100
)

// SolveScale 求解缩放系数，使 floor(original*scale + ε) == target
func SolveScale(originalSize, targetSize int) float64 {
	scale, _ := SolveScaleExact(originalSize, targetSize)
	return scale
}

// SolveScaleExact 与 SolveScale 相同，额外返回查找是否精确命中 target。
//
// 查找区间为 [target/original, (target+1)/original)，迭代上限内未命中时
// 返回最后一次的中点。originalSize 必须大于 0，由调用方保证。
func SolveScaleExact(originalSize, targetSize int) (float64, bool) {
	if originalSize == targetSize {
		return 1.0, true
	}

	original := float64(originalSize)
	target := float64(targetSize)

	minScale := target / original
	maxScale := (target + 1) / original

	var scale float64
	for i := 0; i < MaxScaleIterations; i++ {
		scale = (minScale + maxScale) / 2
		adjusted := math.Floor(original*scale + ScaleTolerance)

		switch {
		case adjusted < target:
			minScale = scale
		case adjusted > target:
			maxScale = scale
		default:
			return scale, true
		}
	}

	return scale, false
}

// ComputeScaleVector 计算 [1, 1, scaleH, scaleW]，批次和通道维度不缩放
func ComputeScaleVector(targetHeight, targetWidth int, inputShape []int64) (*Tensor, error) {
	if len(inputShape) != 4 {
		return nil, fmt.Errorf("%w: expected 4D input shape, got %v", ErrInvalidDimension, inputShape)
	}
	height, width := inputShape[2], inputShape[3]
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: spatial dimensions must be positive, got %dx%d", ErrInvalidDimension, height, width)
	}
	if targetHeight <= 0 || targetWidth <= 0 {
		return nil, fmt.Errorf("%w: target size must be positive, got %dx%d", ErrInvalidDimension, targetHeight, targetWidth)
	}

	scaleH := SolveScale(int(height), targetHeight)
	scaleW := SolveScale(int(width), targetWidth)

	return NewFloat32([]int64{4}, []float32{1.0, 1.0, float32(scaleH), float32(scaleW)})
}
