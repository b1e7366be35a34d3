//go:build purego

package imagesource

import "errors"

func newGocvDecoder() (Decoder, error) {
	return nil, errors.New("gocv image backend is not available in purego builds")
}
