package service

import (
	"context"
	"errors"
	"time"

	"github.com/crandmck/trustmark/config"
	"github.com/crandmck/trustmark/model"
	"github.com/crandmck/trustmark/utils"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ResultCache 解码结果缓存
type ResultCache interface {
	GetDecodeResult(ctx context.Context, md5 string) (*model.DecodeResult, error)
	SetDecodeResult(ctx context.Context, md5 string, result *model.DecodeResult) error
}

type RedisService struct {
	client  *redis.Client
	ttl     time.Duration
	variant string
}

var _ ResultCache = (*RedisService)(nil)

func NewRedisService(cfg *config.RedisConfig, variant string) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client:  client,
		ttl:     cfg.TTL,
		variant: variant,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// 不同模型变体的结果分开缓存
func (s *RedisService) key(md5 string) string {
	return "watermark:" + s.variant + ":" + md5
}

// GetDecodeResult 从缓存获取解码结果，未命中时返回 nil, nil
func (s *RedisService) GetDecodeResult(ctx context.Context, md5 string) (*model.DecodeResult, error) {
	data, err := s.client.Get(ctx, s.key(md5)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var result model.DecodeResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal decode result",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetDecodeResult 写入缓存，unverifiable 结果不缓存
func (s *RedisService) SetDecodeResult(ctx context.Context, md5 string, result *model.DecodeResult) error {
	if result == nil || result.Outcome == model.OutcomeUnverifiable {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.key(md5), data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
