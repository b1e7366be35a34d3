package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/crandmck/trustmark/config"
	"github.com/crandmck/trustmark/ecc"
	"github.com/crandmck/trustmark/imagesource"
	"github.com/crandmck/trustmark/inference"
	"github.com/crandmck/trustmark/model"
	"github.com/crandmck/trustmark/tensor"
	"github.com/crandmck/trustmark/utils"
	"go.uber.org/zap"
)

// ImageLoader 把图片来源解码为 RGBA 图像
type ImageLoader interface {
	Load(ctx context.Context, src imagesource.Source) (*image.NRGBA, error)
}

// Pipeline 水印解码流程：加载 -> 张量 -> 缩放 -> 推理 -> 二值化 -> 纠错
type Pipeline struct {
	registry     *inference.Registry
	loader       ImageLoader
	engine       ecc.Engine
	builder      *tensor.Builder
	thumbSize    int
	timeout      time.Duration
	semaphore    chan struct{}
	queueTimeout time.Duration
}

func NewPipeline(cfg *config.DecodeConfig, registry *inference.Registry, loader ImageLoader, engine ecc.Engine) *Pipeline {
	thumbSize := cfg.ThumbSize
	if thumbSize <= 0 {
		thumbSize = 256
	}
	return &Pipeline{
		registry:     registry,
		loader:       loader,
		engine:       engine,
		builder:      tensor.NewBuilder(cfg.TensorWorkers),
		thumbSize:    thumbSize,
		timeout:      cfg.Timeout,
		semaphore:    make(chan struct{}, max(1, cfg.MaxConcurrent)),
		queueTimeout: cfg.QueueTimeout,
	}
}

// Ready 模型是否已加载
func (p *Pipeline) Ready() error {
	return p.registry.Ready()
}

// Decode 解码来源中的水印。失败不会返回 error，而是 unverifiable 结果
func (p *Pipeline) Decode(ctx context.Context, src imagesource.Source) *model.DecodeResult {
	md5 := ""
	if len(src.Data) > 0 {
		md5 = utils.BytesMD5(src.Data)
	}

	return p.run(ctx, md5, func(ctx context.Context) (*image.NRGBA, error) {
		return p.loader.Load(ctx, src)
	})
}

// DecodeImage 解码已加载的图像
func (p *Pipeline) DecodeImage(ctx context.Context, img *image.NRGBA) *model.DecodeResult {
	return p.run(ctx, "", func(context.Context) (*image.NRGBA, error) {
		return img, nil
	})
}

func (p *Pipeline) run(ctx context.Context, md5 string, load func(context.Context) (*image.NRGBA, error)) *model.DecodeResult {
	release, err := p.acquire(ctx)
	if err != nil {
		return unverifiable(md5, 0, 0, model.StageQueue, err)
	}
	defer release()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	startTime := time.Now()

	if err := p.registry.Ready(); err != nil {
		return unverifiable(md5, 0, 0, model.StageModel, err)
	}
	resizer, err := p.registry.Resizer()
	if err != nil {
		return unverifiable(md5, 0, 0, model.StageModel, err)
	}
	decoder, err := p.registry.Decoder()
	if err != nil {
		return unverifiable(md5, 0, 0, model.StageModel, err)
	}

	img, err := load(ctx)
	if err != nil {
		return unverifiable(md5, 0, 0, model.StageLoad, err)
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	input, err := p.builder.Build(img)
	if err != nil {
		return unverifiable(md5, width, height, model.StageBuildTensor, err)
	}

	resized, err := ResizeSquare(ctx, resizer, input, p.thumbSize)
	if err != nil {
		return unverifiable(md5, width, height, model.StageResize, err)
	}

	logits, err := p.infer(ctx, decoder, resized)
	if err != nil {
		return unverifiable(md5, width, height, model.StageInfer, err)
	}

	decoded := p.engine.Decode(Threshold(logits))

	result := &model.DecodeResult{
		MD5:       md5,
		Width:     width,
		Height:    height,
		Outcome:   model.OutcomeAbsent,
		Timestamp: time.Now().Unix(),
	}
	if decoded.Schema != "" {
		schema := decoded.Schema
		result.Schema = &schema
	}
	if decoded.Valid {
		result.Outcome = model.OutcomeDetected
		result.Present = true
		result.Payload = decoded.Data
		result.Bits = decoded.Bits
		result.SoftBinding = decoded.SoftBinding
	}

	utils.Logger.Info("image decoded",
		zap.String("md5", md5),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.String("outcome", string(result.Outcome)),
		zap.String("schema", decoded.Schema),
		zap.Int("corrected_bits", decoded.Corrected),
		zap.Duration("duration", time.Since(startTime)))

	return result
}

func (p *Pipeline) infer(ctx context.Context, decoder inference.Runner, input *tensor.Tensor) ([]float32, error) {
	outputs, err := decoder.Run(ctx, map[string]*tensor.Tensor{inference.DecodeInput: input})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}
	out, err := inference.Output(outputs, inference.DecodeOutput)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}
	if out.DataType() != tensor.Float32 {
		return nil, fmt.Errorf("%w: unexpected output %v", ErrInferenceFailed, out)
	}
	return out.Float32s(), nil
}

// acquire 获取并发名额，等待超过 queueTimeout 返回 ErrBusy
func (p *Pipeline) acquire(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if p.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
	}

	select {
	case p.semaphore <- struct{}{}:
		return func() { <-p.semaphore }, nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrBusy
	}
}

func unverifiable(md5 string, width, height int, stage model.Stage, err error) *model.DecodeResult {
	level := zap.ErrorLevel
	if errors.Is(err, inference.ErrModelNotReady) || errors.Is(err, ErrBusy) {
		level = zap.WarnLevel
	}
	if ce := utils.Logger.Check(level, "decode failed"); ce != nil {
		ce.Write(
			zap.String("md5", md5),
			zap.String("stage", string(stage)),
			zap.Error(err))
	}

	return &model.DecodeResult{
		MD5:       md5,
		Width:     width,
		Height:    height,
		Outcome:   model.OutcomeUnverifiable,
		Stage:     stage,
		Reason:    err.Error(),
		Timestamp: time.Now().Unix(),
	}
}
