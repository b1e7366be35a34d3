package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/crandmck/trustmark/utils"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Store 把模型来源（本地路径、http(s) URL、gs:// 对象）解析为本地缓存文件
type Store struct {
	CacheDir   string
	HTTPClient *http.Client
	// Checksums 来源到解压后模型文件 MD5 的映射，未列出的来源不校验
	Checksums map[string]string

	gcsOnce   sync.Once
	gcsClient *storage.Client
	gcsErr    error

	// fetchMu 防止同一来源被并发下载
	fetchMu sync.Mutex
}

func NewStore(cacheDir string) *Store {
	return &Store{
		CacheDir:   cacheDir,
		HTTPClient: &http.Client{},
	}
}

var ErrChecksumMismatch = errors.New("model checksum mismatch")

// Fetch 返回模型的本地路径，远程来源下载后缓存，.zst 来源解压后缓存
func (s *Store) Fetch(ctx context.Context, source string) (string, error) {
	if source == "" {
		return "", errors.New("model source is empty")
	}

	u, err := url.Parse(source)
	isRemote := err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "gs")
	if !isRemote {
		localPath := strings.TrimPrefix(source, "file://")
		if _, err := os.Stat(localPath); err != nil {
			return "", fmt.Errorf("opening model %q: %w", localPath, err)
		}
		if !isCompressed(localPath) {
			if err := s.verify(source, localPath); err != nil {
				return "", err
			}
			return localPath, nil
		}
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	cachePath := s.cachePath(source)
	if _, err := os.Stat(cachePath); err == nil {
		if err := s.verify(source, cachePath); err == nil {
			utils.Logger.Debug("model cache hit", zap.String("source", source), zap.String("path", cachePath))
			return cachePath, nil
		}
		utils.Logger.Warn("cached model is corrupt, fetching again", zap.String("source", source), zap.Error(err))
		if err := os.Remove(cachePath); err != nil {
			return "", fmt.Errorf("removing corrupt cache %q: %w", cachePath, err)
		}
	}

	if err := os.MkdirAll(s.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory %q: %w", s.CacheDir, err)
	}

	startedAt := time.Now()
	r, err := s.open(ctx, source, u, isRemote)
	if err != nil {
		return "", err
	}
	defer r.Close()

	var src io.Reader = r
	if isCompressed(source) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return "", fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	n, err := writeToFile(src, cachePath)
	if err != nil {
		return "", fmt.Errorf("caching model %q: %w", source, err)
	}
	if err := s.verify(source, cachePath); err != nil {
		_ = os.Remove(cachePath)
		return "", err
	}

	utils.Logger.Info("model fetched",
		zap.String("source", source),
		zap.String("path", cachePath),
		zap.Int64("bytes", n),
		zap.Duration("duration", time.Since(startedAt)))

	return cachePath, nil
}

// verify 校验模型文件的 MD5
func (s *Store) verify(source, path string) error {
	want, ok := s.Checksums[source]
	if !ok || want == "" {
		return nil
	}
	got, err := utils.FileMD5(path)
	if err != nil {
		return fmt.Errorf("hashing model %q: %w", path, err)
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: %s has md5 %s, want %s", ErrChecksumMismatch, source, got, want)
	}
	return nil
}

func (s *Store) open(ctx context.Context, source string, u *url.URL, isRemote bool) (io.ReadCloser, error) {
	if !isRemote {
		return os.Open(strings.TrimPrefix(source, "file://"))
	}
	switch u.Scheme {
	case "gs":
		return s.openGCS(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return s.openHTTP(ctx, source)
	}
}

func (s *Store) openHTTP(ctx context.Context, source string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("model %q not found: %w", source, os.ErrNotExist)
		}
		return nil, fmt.Errorf("unexpected status downloading %q: %v", source, resp.Status)
	}
	return resp.Body, nil
}

func (s *Store) openGCS(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	s.gcsOnce.Do(func() {
		s.gcsClient, s.gcsErr = storage.NewClient(ctx)
	})
	if s.gcsErr != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", s.gcsErr)
	}

	gcsURL := "gs://" + bucket + "/" + object
	r, err := s.gcsClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("model %q not found: %w", gcsURL, os.ErrNotExist)
		}
		return nil, fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	return r, nil
}

// Close 释放 GCS 客户端
func (s *Store) Close() error {
	if s.gcsClient != nil {
		return s.gcsClient.Close()
	}
	return nil
}

// cachePath 缓存文件名为来源的 MD5，保留去掉 .zst 后的扩展名
func (s *Store) cachePath(source string) string {
	ext := filepath.Ext(strings.TrimSuffix(source, ".zst"))
	if len(ext) > 8 || strings.ContainsAny(ext, "/?&=") {
		ext = ""
	}
	return filepath.Join(s.CacheDir, utils.BytesMD5([]byte(source))+ext)
}

func isCompressed(source string) bool {
	return strings.HasSuffix(source, ".zst")
}

// writeToFile 先写临时文件再重命名，避免留下不完整的缓存
func writeToFile(src io.Reader, destinationPath string) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(destinationPath), "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil && !os.IsNotExist(err) {
				utils.Logger.Warn("failed to remove temp file", zap.String("path", tempFile.Name()), zap.Error(err))
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		tempFile.Close()
		return n, fmt.Errorf("downloading from upstream source: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return n, nil
}
