//go:build !purego

package imagesource

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// gocvDecoder 使用 OpenCV 解码，支持 OpenCV 能读取的全部格式
type gocvDecoder struct{}

func newGocvDecoder() (Decoder, error) {
	return gocvDecoder{}, nil
}

func (gocvDecoder) Decode(data []byte) (*image.NRGBA, error) {
	src, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", sniff(data), err)
	}
	defer src.Close()
	if src.Empty() {
		return nil, errors.New("opencv could not decode image")
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(src, &rgba, gocv.ColorBGRToRGBA)

	width, height := rgba.Cols(), rgba.Rows()
	pix := rgba.ToBytes()
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("unexpected pixel buffer size %d for %dx%d", len(pix), width, height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, pix)
	return img, nil
}
