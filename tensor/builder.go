package tensor

import (
	"errors"
	"image"

	"golang.org/x/sync/errgroup"
)

var ErrEmptyImage = errors.New("image has no pixels")

// minRowsPerBand 每个并行任务处理的行数，小图直接串行
const minRowsPerBand = 64

// unitScale 0..255 到 [0,1] 的查找表，值与 float32(v / 255.0) 逐位一致
var unitScale = func() [256]float32 {
	var lut [256]float32
	for v := range lut {
		lut[v] = float32(float64(v) / 255.0)
	}
	return lut
}()

// Builder 将 RGBA 图像转换为 (1,3,H,W) 的通道平面张量
type Builder struct {
	workers int
}

// NewBuilder 创建 Builder，workers <= 1 时串行处理
func NewBuilder(workers int) *Builder {
	return &Builder{workers: workers}
}

// FromImage 使用串行 Builder 转换图像
func FromImage(img *image.NRGBA) (*Tensor, error) {
	return NewBuilder(1).Build(img)
}

// Build 把交错的 HWC 像素写成 CHW 平面布局，alpha 通道被忽略
func (b *Builder) Build(img *image.NRGBA) (*Tensor, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 1 || height < 1 {
		return nil, ErrEmptyImage
	}

	page := width * height
	data := make([]float32, 3*page)

	fill := func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+width*4]
			j := y * width
			for x := 0; x < width; x++ {
				px := row[x*4 : x*4+4 : x*4+4]
				data[j] = unitScale[px[0]]
				data[j+page] = unitScale[px[1]]
				data[j+2*page] = unitScale[px[2]]
				j++
			}
		}
	}

	if b == nil || b.workers <= 1 || height < 2*minRowsPerBand {
		fill(0, height)
	} else {
		var g errgroup.Group
		g.SetLimit(b.workers)
		for y0 := 0; y0 < height; y0 += minRowsPerBand {
			y1 := min(y0+minRowsPerBand, height)
			g.Go(func() error {
				fill(y0, y1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return NewFloat32([]int64{1, 3, int64(height), int64(width)}, data)
}
