package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"
	"citizen-safety-go/pkg/log"
)

// MaskingService 定义了 PII 脱敏服务的接口。
// 用户问题在进入检索和生成之前必须先经过脱敏。
type MaskingService interface {
	Mask(ctx context.Context, text string) (model.MaskResult, error)
}

// nerAnalyzer 是脱敏服务对 NER 分析能力的最小依赖（由 ner.Client 实现）。
type nerAnalyzer interface {
	Analyze(ctx context.Context, text string) ([]model.PIIEntity, error)
}

// patternRecognizer 是一条基于正则的结构化 PII 识别规则。
type patternRecognizer struct {
	entityType string
	re         *regexp.Regexp
	score      float64
}

// 内置识别器覆盖 NER 模型不擅长的结构化号码类实体。
// 手机号规则面向印度号段（可带 +91 前缀）。
var builtinRecognizers = []patternRecognizer{
	{entityType: "PHONE_NUMBER", re: regexp.MustCompile(`(\+91[\-\s]?)?[6-9]\d{9}`), score: 0.5},
	{entityType: "EMAIL_ADDRESS", re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), score: 0.85},
	{entityType: "AADHAAR_NUMBER", re: regexp.MustCompile(`\b[2-9]\d{3}\s?\d{4}\s?\d{4}\b`), score: 0.6},
	{entityType: "CREDIT_CARD", re: regexp.MustCompile(`\b\d{4}[\-\s]?\d{4}[\-\s]?\d{4}[\-\s]?\d{4}\b`), score: 0.6},
}

type maskingService struct {
	analyzer    nerAnalyzer
	recognizers []patternRecognizer
	threshold   float64
}

// NewMaskingService 创建一个新的 MaskingService 实例。
func NewMaskingService(analyzer nerAnalyzer, cfg config.MaskingConfig) MaskingService {
	threshold := cfg.ScoreThreshold
	if threshold <= 0 {
		threshold = 0.4
	}
	return &maskingService{
		analyzer:    analyzer,
		recognizers: builtinRecognizers,
		threshold:   threshold,
	}
}

// detection 在合并阶段额外携带来源信息：同分冲突时正则识别器优先。
type detection struct {
	model.PIIEntity
	fromRegex bool
}

// Mask 对文本执行 PII 检测和占位符替换。
// NER 服务不可用时返回 ErrMaskingFailure（fail-closed），
// 绝不返回部分脱敏的文本。
func (s *maskingService) Mask(ctx context.Context, text string) (model.MaskResult, error) {
	nerEntities, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		log.Errorf("[Masking] NER 分析服务调用失败: %v", err)
		return model.MaskResult{}, fmt.Errorf("%w: %v", ErrMaskingFailure, err)
	}

	var candidates []detection
	for _, e := range nerEntities {
		candidates = append(candidates, detection{PIIEntity: e})
	}
	candidates = append(candidates, s.regexDetections(text)...)

	// 过滤低置信度结果
	filtered := candidates[:0]
	for _, d := range candidates {
		if d.Score >= s.threshold {
			filtered = append(filtered, d)
		}
	}

	accepted := mergeOverlaps(filtered)
	if len(accepted) == 0 {
		return model.MaskResult{MaskedText: text, PIIFound: false, Entities: []model.PIIEntity{}}, nil
	}

	masked := applyPlaceholders(text, accepted)
	entities := make([]model.PIIEntity, 0, len(accepted))
	for _, d := range accepted {
		entities = append(entities, d.PIIEntity)
	}
	log.Infof("[Masking] 检测到 %d 个敏感实体并完成替换", len(entities))
	return model.MaskResult{MaskedText: masked, PIIFound: true, Entities: entities}, nil
}

// regexDetections 运行全部内置正则识别器，偏移按 rune 折算。
func (s *maskingService) regexDetections(text string) []detection {
	var out []detection
	for _, rec := range s.recognizers {
		for _, loc := range rec.re.FindAllStringIndex(text, -1) {
			start := utf8.RuneCountInString(text[:loc[0]])
			length := utf8.RuneCountInString(text[loc[0]:loc[1]])
			out = append(out, detection{
				PIIEntity: model.PIIEntity{
					Type:  rec.entityType,
					Score: rec.score,
					Start: start,
					End:   start + length,
				},
				fromRegex: true,
			})
		}
	}
	return out
}

// mergeOverlaps 消除重叠检测：分数高者胜出，分数相同时正则识别器优先。
// 返回结果按 Start 升序且两两不重叠。
func mergeOverlaps(candidates []detection) []detection {
	sorted := make([]detection, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].fromRegex != sorted[j].fromRegex {
			return sorted[i].fromRegex
		}
		return sorted[i].Start < sorted[j].Start
	})

	var accepted []detection
	for _, d := range sorted {
		overlaps := false
		for _, a := range accepted {
			if d.Start < a.End && a.Start < d.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, d)
		}
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })
	return accepted
}

// applyPlaceholders 将每个实体片段替换为 <TYPE> 占位符。
// 从后往前替换，避免偏移失效。
func applyPlaceholders(text string, accepted []detection) string {
	runes := []rune(text)
	for i := len(accepted) - 1; i >= 0; i-- {
		d := accepted[i]
		if d.Start < 0 || d.End > len(runes) || d.Start >= d.End {
			continue
		}
		placeholder := []rune(fmt.Sprintf("<%s>", d.Type))
		runes = append(runes[:d.Start], append(placeholder, runes[d.End:]...)...)
	}
	return string(runes)
}
