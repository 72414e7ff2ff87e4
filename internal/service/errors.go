package service

import "errors"

// 查询链路的错误分类。除 ErrMaskingFailure 外，链路内部的失败都会被
// 转换为响应字段而不是向上抛出。
var (
	// ErrMaskingFailure 表示脱敏引擎不可用。策略是 fail-closed：
	// 无法脱敏的请求直接拒绝，绝不把未脱敏文本转发出去。
	ErrMaskingFailure = errors.New("pii masking unavailable")

	// ErrGenerationUnavailable 表示熔断器打开或 LLM 调用失败/超时。
	ErrGenerationUnavailable = errors.New("generation service unavailable")
)
