package imagesource

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/image/draw"
)

// Source 图像来源，Data、Path、URL 三者取其一
type Source struct {
	Data []byte
	Path string
	// URL 支持 http(s):// 与 data: 两种形式
	URL string
}

// String 返回用于日志的来源描述，不包含图像数据
func (s Source) String() string {
	switch {
	case len(s.Data) > 0:
		return fmt.Sprintf("bytes(%d)", len(s.Data))
	case s.Path != "":
		return "file:" + s.Path
	case strings.HasPrefix(s.URL, "data:"):
		return "data-url"
	case s.URL != "":
		return s.URL
	default:
		return "empty"
	}
}

// LoadError 图像无法读取或解码
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading image from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

var (
	ErrEmptySource = errors.New("image source is empty")
	ErrTooLarge    = errors.New("image exceeds size limit")
)

// Decoder 把编码后的图像字节解码为 RGBA 栅格
type Decoder interface {
	Decode(data []byte) (*image.NRGBA, error)
}

// NewDecoder 按名称创建解码器：std 或 gocv
func NewDecoder(backend string) (Decoder, error) {
	switch backend {
	case "", "std":
		return stdDecoder{}, nil
	case "gocv":
		return newGocvDecoder()
	default:
		return nil, fmt.Errorf("unknown image backend %q", backend)
	}
}

// Loader 从字节、文件或 URL 加载图像
type Loader struct {
	decoder  Decoder
	client   *http.Client
	maxBytes int64
}

// NewLoader 创建 Loader；maxBytes <= 0 表示不限制
func NewLoader(decoder Decoder, fetchTimeout time.Duration, maxBytes int64) *Loader {
	return &Loader{
		decoder:  decoder,
		client:   &http.Client{Timeout: fetchTimeout},
		maxBytes: maxBytes,
	}
}

// Load 读取并解码图像，所有失败都以 *LoadError 返回
func (l *Loader) Load(ctx context.Context, src Source) (*image.NRGBA, error) {
	data, err := l.read(ctx, src)
	if err != nil {
		return nil, &LoadError{Source: src.String(), Err: err}
	}
	img, err := l.decoder.Decode(data)
	if err != nil {
		return nil, &LoadError{Source: src.String(), Err: err}
	}
	return img, nil
}

func (l *Loader) read(ctx context.Context, src Source) ([]byte, error) {
	switch {
	case len(src.Data) > 0:
		return src.Data, nil
	case src.Path != "":
		return l.readFile(src.Path)
	case strings.HasPrefix(src.URL, "data:"):
		return decodeDataURL(src.URL)
	case src.URL != "":
		return l.fetch(ctx, src.URL)
	default:
		return nil, ErrEmptySource
	}
}

func (l *Loader) readFile(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return l.readLimited(f)
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching image: %v", resp.Status)
	}
	return l.readLimited(resp.Body)
}

func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	if l.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, l.maxBytes)
	}
	return data, nil
}

// decodeDataURL 解析 data:[<mediatype>][;base64],<data>
func decodeDataURL(s string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data url")
	}
	if !strings.HasSuffix(meta, ";base64") {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding data url: %w", err)
		}
		return []byte(unescaped), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 data url: %w", err)
	}
	return data, nil
}

// ToNRGBA 把任意图像转换为原点在 (0,0) 的非预乘 RGBA 图像
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func sniff(data []byte) string {
	return http.DetectContentType(data[:min(len(data), 512)])
}
