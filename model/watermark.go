package model

// Outcome 解码结论
type Outcome string

const (
	// OutcomeDetected ECC 校验通过，水印存在
	OutcomeDetected Outcome = "detected"
	// OutcomeAbsent 流程完整执行，但未得到有效水印
	OutcomeAbsent Outcome = "absent"
	// OutcomeUnverifiable 流程中途失败，无法判断是否有水印
	OutcomeUnverifiable Outcome = "unverifiable"
)

// Stage 解码流程阶段
type Stage string

const (
	// StageQueue 等待并发名额超时
	StageQueue       Stage = "queue"
	// StageModel 模型尚未就绪或加载失败
	StageModel       Stage = "model"
	StageLoad        Stage = "load"
	StageBuildTensor Stage = "build_tensor"
	StageResize      Stage = "resize"
	StageInfer       Stage = "infer"
)

// DecodeResult 单次解码结果，构造后不再修改
type DecodeResult struct {
	MD5         string           `json:"md5,omitempty"`
	Width       int              `json:"width,omitempty"`
	Height      int              `json:"height,omitempty"`
	Outcome     Outcome          `json:"outcome"`
	Stage       Stage            `json:"stage,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Present     bool             `json:"present"`
	Payload     []byte           `json:"payload"`
	Bits        string           `json:"bits,omitempty"`
	Schema      *string          `json:"schema"`
	SoftBinding *SoftBindingInfo `json:"soft_binding,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// Watermark 兼容旧接口的扁平结果
func (r *DecodeResult) Watermark() WatermarkResult {
	return WatermarkResult{
		WatermarkPresent: r.Present,
		Watermark:        r.Payload,
		Schema:           r.Schema,
		C2PAData:         r.SoftBinding,
	}
}

// WatermarkResult 对外的扁平结果 {watermark_present, watermark, schema, c2padata}
type WatermarkResult struct {
	WatermarkPresent bool             `json:"watermark_present"`
	Watermark        []byte           `json:"watermark"`
	Schema           *string          `json:"schema"`
	C2PAData         *SoftBindingInfo `json:"c2padata,omitempty"`
}

// SoftBindingInfo C2PA soft-binding 断言
type SoftBindingInfo struct {
	Alg    string             `json:"alg"`
	Blocks []SoftBindingBlock `json:"blocks"`
}

type SoftBindingBlock struct {
	Scope map[string]any `json:"scope"`
	Value string         `json:"value"`
}

// DecodeResponse 解码接口响应
type DecodeResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    *WatermarkResult `json:"data,omitempty"`
	Detail  *DecodeResult    `json:"detail,omitempty"`
}

// DecodeURLRequest 按 URL 解码的请求体
type DecodeURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
