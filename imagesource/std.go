package imagesource

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// stdDecoder 使用 image.Decode 及 x/image 注册的格式解码
type stdDecoder struct{}

func (stdDecoder) Decode(data []byte) (*image.NRGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", sniff(data), err)
	}
	return ToNRGBA(img), nil
}
