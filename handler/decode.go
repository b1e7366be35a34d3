package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/crandmck/trustmark/config"
	"github.com/crandmck/trustmark/imagesource"
	"github.com/crandmck/trustmark/inference"
	"github.com/crandmck/trustmark/model"
	"github.com/crandmck/trustmark/service"
	"github.com/crandmck/trustmark/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Decoder 水印解码能力
type Decoder interface {
	Decode(ctx context.Context, src imagesource.Source) *model.DecodeResult
	Ready() error
}

type DecodeHandler struct {
	cfg      *config.Config
	cache    service.ResultCache
	pipeline Decoder
}

// NewDecodeHandler cache 可以为 nil，此时不使用缓存
func NewDecodeHandler(cfg *config.Config, cache service.ResultCache, pipeline Decoder) *DecodeHandler {
	return &DecodeHandler{
		cfg:      cfg,
		cache:    cache,
		pipeline: pipeline,
	}
}

// Decode 处理上传图片的水印解码
func (h *DecodeHandler) Decode(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		utils.Logger.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型",
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		h.internalError(c, "读取文件失败", err)
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		h.internalError(c, "读取文件失败", err)
		return
	}

	md5 := utils.BytesMD5(data)

	utils.Logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size))

	h.respond(c, md5, imagesource.Source{Data: data})
}

// DecodeURL 下载远程图片并解码
func (h *DecodeHandler) DecodeURL(c *gin.Context) {
	var req model.DecodeURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请求参数错误",
			Error:   err.Error(),
		})
		return
	}

	md5 := ""
	if !strings.HasPrefix(req.URL, "data:") {
		md5 = utils.BytesMD5([]byte(req.URL))
	}
	h.respond(c, md5, imagesource.Source{URL: req.URL})
}

// GetByMD5 根据MD5获取缓存的解码结果
func (h *DecodeHandler) GetByMD5(c *gin.Context) {
	md5 := c.Param("md5")
	if md5 == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "MD5参数缺失",
		})
		return
	}

	if h.cache == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "缓存未启用",
		})
		return
	}

	result, err := h.cache.GetDecodeResult(c.Request.Context(), md5)
	if err != nil {
		h.internalError(c, "查询失败", err)
		return
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该图片的解码结果",
		})
		return
	}

	c.JSON(http.StatusOK, success("查询成功", result))
}

// Ready 模型加载完成前返回 503
func (h *DecodeHandler) Ready(c *gin.Context) {
	if err := h.pipeline.Ready(); err != nil {
		message := "模型加载中"
		var loadErr *inference.ModelLoadError
		if errors.As(err, &loadErr) {
			message = "模型加载失败"
		}
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Success: false,
			Message: message,
			Error:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *DecodeHandler) respond(c *gin.Context, md5 string, src imagesource.Source) {
	ctx := c.Request.Context()

	// 检查缓存
	if h.cache != nil && md5 != "" {
		cachedResult, err := h.cache.GetDecodeResult(ctx, md5)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cachedResult != nil {
			utils.Logger.Info("cache hit", zap.String("md5", md5))
			c.JSON(http.StatusOK, success("解码成功（来自缓存）", cachedResult))
			return
		}
	}

	result := h.pipeline.Decode(ctx, src)
	if result.MD5 == "" && md5 != "" {
		withMD5 := *result
		withMD5.MD5 = md5
		result = &withMD5
	}

	if result.Outcome == model.OutcomeUnverifiable {
		status := http.StatusUnprocessableEntity
		message := "无法验证水印"
		switch result.Stage {
		case model.StageQueue:
			status, message = http.StatusServiceUnavailable, "处理队列已满，请稍后重试"
		case model.StageModel:
			status, message = http.StatusServiceUnavailable, "模型尚未就绪"
		case model.StageResize, model.StageInfer:
			status = http.StatusInternalServerError
		}
		c.JSON(status, model.DecodeResponse{
			Success: false,
			Message: message,
			Data:    flat(result),
			Detail:  result,
		})
		return
	}

	// 保存到缓存
	if h.cache != nil && md5 != "" {
		if err := h.cache.SetDecodeResult(ctx, md5, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, success("解码成功", result))
}

func (h *DecodeHandler) internalError(c *gin.Context, message string, err error) {
	utils.Logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

func (h *DecodeHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func success(message string, result *model.DecodeResult) model.DecodeResponse {
	return model.DecodeResponse{
		Success: true,
		Message: message,
		Data:    flat(result),
		Detail:  result,
	}
}

func flat(result *model.DecodeResult) *model.WatermarkResult {
	w := result.Watermark()
	return &w
}
