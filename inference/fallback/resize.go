package fallback

import (
	"context"
	"fmt"
	"math"

	"github.com/crandmck/trustmark/inference"
	"github.com/crandmck/trustmark/tensor"
)

// Resizer 纯 Go 实现的双线性缩放，输入输出与 resizer.onnx 相同。
//
// 输出尺寸为 floor(dim*scale + ε)，坐标变换采用 half_pixel，越界时取边缘像素。
type Resizer struct{}

func NewResizer() *Resizer {
	return &Resizer{}
}

var _ inference.Runner = (*Resizer)(nil)

func (r *Resizer) Run(ctx context.Context, feeds map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x, ok := feeds[inference.ResizeInput]
	if !ok || x == nil {
		return nil, fmt.Errorf("missing input %q", inference.ResizeInput)
	}
	scales, ok := feeds[inference.ResizeScales]
	if !ok || scales == nil {
		return nil, fmt.Errorf("missing input %q", inference.ResizeScales)
	}

	shape := x.Shape()
	if x.DataType() != tensor.Float32 || len(shape) != 4 {
		return nil, fmt.Errorf("input must be a 4D float32 tensor, got %v", x)
	}
	s := scales.Float32s()
	if scales.DataType() != tensor.Float32 || len(s) != 4 {
		return nil, fmt.Errorf("scales must be 4 float32 values, got %v", scales)
	}
	if s[0] != 1 || s[1] != 1 {
		return nil, fmt.Errorf("batch and channel scales must be 1, got %v", s[:2])
	}

	batch, channels := int(shape[0]), int(shape[1])
	inH, inW := int(shape[2]), int(shape[3])
	scaleH, scaleW := float64(s[2]), float64(s[3])
	outH := int(math.Floor(float64(inH)*scaleH + tensor.ScaleTolerance))
	outW := int(math.Floor(float64(inW)*scaleW + tensor.ScaleTolerance))
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("scales %v produce empty output for %dx%d", s, inH, inW)
	}

	ys := axisWeights(inH, outH, scaleH)
	xs := axisWeights(inW, outW, scaleW)

	src := x.Float32s()
	dst := make([]float32, batch*channels*outH*outW)
	inPlane, outPlane := inH*inW, outH*outW
	for p := 0; p < batch*channels; p++ {
		in := src[p*inPlane : (p+1)*inPlane]
		out := dst[p*outPlane : (p+1)*outPlane]
		for oy, wy := range ys {
			row0 := in[wy.lo*inW : (wy.lo+1)*inW]
			row1 := in[wy.hi*inW : (wy.hi+1)*inW]
			for ox, wx := range xs {
				top := lerp(row0[wx.lo], row0[wx.hi], wx.frac)
				bottom := lerp(row1[wx.lo], row1[wx.hi], wx.frac)
				out[oy*outW+ox] = float32(lerp64(top, bottom, wy.frac))
			}
		}
	}

	y, err := tensor.NewFloat32([]int64{int64(batch), int64(channels), int64(outH), int64(outW)}, dst)
	if err != nil {
		return nil, err
	}
	return map[string]*tensor.Tensor{inference.ResizeOutput: y}, nil
}

type sample struct {
	lo, hi int
	frac   float64
}

// axisWeights 计算一个轴上每个输出位置的两个源索引和插值权重
func axisWeights(in, out int, scale float64) []sample {
	samples := make([]sample, out)
	for i := range samples {
		pos := (float64(i)+0.5)/scale - 0.5
		pos = math.Max(0, math.Min(pos, float64(in-1)))
		lo := int(math.Floor(pos))
		samples[i] = sample{
			lo:   lo,
			hi:   min(lo+1, in-1),
			frac: pos - float64(lo),
		}
	}
	return samples
}

func lerp(a, b float32, t float64) float64 {
	return float64(a) + (float64(b)-float64(a))*t
}

func lerp64(a, b, t float64) float64 {
	return a + (b-a)*t
}
