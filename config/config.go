package config

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultModelBaseURL 官方模型发布地址
const DefaultModelBaseURL = "https://cc-assets.netlify.app/watermarking/trustmark-models/"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Upload UploadConfig `mapstructure:"upload"`
	Decode DecodeConfig `mapstructure:"decode"`
	Models ModelsConfig `mapstructure:"models"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64         `mapstructure:"max_size"`
	AllowedTypes []string      `mapstructure:"allowed_types"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// DecodeConfig 解码流程参数
type DecodeConfig struct {
	ThumbSize     int           `mapstructure:"thumb_size"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	// Timeout 单次解码的总超时，0 表示不限制
	Timeout       time.Duration `mapstructure:"timeout"`
	TensorWorkers int           `mapstructure:"tensor_workers"`
	ImageBackend  string        `mapstructure:"image_backend"`
}

// ModelsConfig 模型来源与推理后端
type ModelsConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Variant   string `mapstructure:"variant"`
	Resizer   string `mapstructure:"resizer"`
	// Decoder 为空时使用 decoder_<variant>.onnx
	Decoder        string `mapstructure:"decoder"`
	// ResizerMD5 / DecoderMD5 非空时校验模型文件
	ResizerMD5     string `mapstructure:"resizer_md5"`
	DecoderMD5     string `mapstructure:"decoder_md5"`
	ResizeBackend  string `mapstructure:"resize_backend"`
	CacheDir       string `mapstructure:"cache_dir"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
}

// Checksums 按模型来源索引的 MD5，供 modelstore 校验
func (m ModelsConfig) Checksums() map[string]string {
	sums := map[string]string{}
	if m.ResizerMD5 != "" {
		sums[m.ResizerSource()] = m.ResizerMD5
	}
	if m.DecoderMD5 != "" {
		sums[m.DecoderSource()] = m.DecoderMD5
	}
	return sums
}

// ResizerSource 缩放模型的完整来源
func (m ModelsConfig) ResizerSource() string {
	return m.source(m.Resizer)
}

// DecoderSource 解码模型的完整来源
func (m ModelsConfig) DecoderSource() string {
	name := m.Decoder
	if name == "" {
		name = fmt.Sprintf("decoder_%s.onnx", m.Variant)
	}
	return m.source(name)
}

func (m ModelsConfig) source(name string) string {
	if strings.Contains(name, "://") || filepath.IsAbs(name) {
		return name
	}
	if m.GCSBucket != "" {
		return "gs://" + m.GCSBucket + "/" + strings.TrimPrefix(name, "/")
	}
	if u, err := url.Parse(m.BaseURL); err == nil && u.Scheme != "" && u.Host != "" {
		u.Path = path.Join(u.Path, name)
		return u.String()
	}
	return filepath.Join(m.BaseURL, name)
}

// Load 从 YAML 文件加载配置，环境变量 TRUSTMARK_* 优先
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// New 加载配置文件，失败时回退到默认值加环境变量
func New(configPath string) *Config {
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := Load(configPath)
	if err != nil {
		cfg, err = unmarshal(newViper())
		if err != nil {
			return getDefaultConfig()
		}
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRUSTMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)
	v.SetDefault("upload.fetch_timeout", d.Upload.FetchTimeout)

	v.SetDefault("decode.thumb_size", d.Decode.ThumbSize)
	v.SetDefault("decode.max_concurrent", d.Decode.MaxConcurrent)
	v.SetDefault("decode.queue_timeout", d.Decode.QueueTimeout)
	v.SetDefault("decode.timeout", d.Decode.Timeout)
	v.SetDefault("decode.tensor_workers", d.Decode.TensorWorkers)
	v.SetDefault("decode.image_backend", d.Decode.ImageBackend)

	v.SetDefault("models.base_url", d.Models.BaseURL)
	v.SetDefault("models.gcs_bucket", d.Models.GCSBucket)
	v.SetDefault("models.variant", d.Models.Variant)
	v.SetDefault("models.resizer", d.Models.Resizer)
	v.SetDefault("models.decoder", d.Models.Decoder)
	v.SetDefault("models.resizer_md5", d.Models.ResizerMD5)
	v.SetDefault("models.decoder_md5", d.Models.DecoderMD5)
	v.SetDefault("models.resize_backend", d.Models.ResizeBackend)
	v.SetDefault("models.cache_dir", d.Models.CacheDir)
	v.SetDefault("models.ort_library_path", d.Models.ORTLibraryPath)
	v.SetDefault("models.intra_op_threads", d.Models.IntraOpThreads)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg", "image/webp", "image/bmp", "image/gif"},
			FetchTimeout: 15 * time.Second,
		},
		Decode: DecodeConfig{
			ThumbSize:     256,
			MaxConcurrent: 4,
			QueueTimeout:  30 * time.Second,
			Timeout:       60 * time.Second,
			TensorWorkers: 4,
			ImageBackend:  "std",
		},
		Models: ModelsConfig{
			BaseURL:       DefaultModelBaseURL,
			Variant:       "Q",
			Resizer:       "resizer.onnx",
			ResizeBackend: "onnx",
			CacheDir:      "./models",
		},
	}
}
