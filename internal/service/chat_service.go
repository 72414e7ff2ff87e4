package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"
	"citizen-safety-go/pkg/log"
)

// 回答生成不可用时返回给用户的提示文案。
const generationDownMessage = "AI service is temporarily unavailable. Please try again shortly."

// 不当用语请求的拒绝文案。
const abusiveQueryMessage = "Professional queries only."

// 不当用语词表。命中任意整词即拒绝请求，检查发生在脱敏之前。
var abusiveWords = []string{
	"stupid", "idiot", "dumb", "hate", "kill", "shut up",
	"useless", "nonsense", "pagal", "bevkuf", "chutiya", "madarchod",
}

var abusivePatterns = compileAbusivePatterns(abusiveWords)

func compileAbusivePatterns(words []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		patterns = append(patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return patterns
}

// isAbusiveQuery 对小写化后的问题做整词匹配，子串（如 skill 中的 kill）不命中。
func isAbusiveQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range abusivePatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

// 引用预览的最大长度（rune）。
const previewRuneLimit = 300

// ChatService 定义了问答链路的编排接口：脱敏 → 检索 → 生成 → 组装响应。
type ChatService interface {
	Answer(ctx context.Context, question string) (*model.ChatResponse, error)
}

type chatService struct {
	masking      MaskingService
	retriever    Retriever
	generator    Generator
	retrievalCfg config.RetrievalConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(masking MaskingService, retriever Retriever, generator Generator, retrievalCfg config.RetrievalConfig) ChatService {
	return &chatService{
		masking:      masking,
		retriever:    retriever,
		generator:    generator,
		retrievalCfg: retrievalCfg,
	}
}

// Answer 执行一次完整的问答。
// 不当用语请求在进入链路前被拒绝（error 字段响应）；
// 脱敏失败直接返回 ErrMaskingFailure（请求被拒绝）；检索失败降级为无引用；
// 生成失败返回带 error 字段的降级响应。原始问题绝不会发往检索或生成。
func (s *chatService) Answer(ctx context.Context, question string) (*model.ChatResponse, error) {
	start := time.Now()

	// 不当用语检查先于一切处理，命中直接拒绝
	if isAbusiveQuery(question) {
		log.Warnf("[Chat] 请求包含不当用语, 已拒绝")
		return &model.ChatResponse{
			Sources:     []model.SourceCitation{},
			PIIEntities: []model.PIIEntity{},
			Latency:     time.Since(start).Seconds(),
			Error:       abusiveQueryMessage,
		}, nil
	}

	maskResult, err := s.masking.Mask(ctx, question)
	if err != nil {
		return nil, err
	}
	if maskResult.PIIFound {
		log.Infof("[Chat] 问题包含 %d 个敏感实体, 已脱敏", len(maskResult.Entities))
	}

	passages := s.retriever.Retrieve(ctx, maskResult.MaskedText, s.retrievalCfg.TopK, s.retrievalCfg.FetchK)

	answer, genErr := s.generator.Generate(ctx, maskResult.MaskedText, buildContextText(passages))

	resp := &model.ChatResponse{
		Latency:        time.Since(start).Seconds(),
		PIIMasked:      maskResult.PIIFound,
		PIIEntities:    maskResult.Entities,
		MaskedQuestion: maskResult.MaskedText,
		Sources:        []model.SourceCitation{},
	}
	if resp.PIIEntities == nil {
		resp.PIIEntities = []model.PIIEntity{}
	}

	if genErr != nil {
		resp.Error = generationDownMessage
		return resp, nil
	}

	resp.Response = answer
	resp.Sources = buildCitations(passages)
	if len(passages) > 0 {
		resp.Confidence = ConfidenceFromDistance(passages[0].Distance)
	}
	return resp, nil
}

// buildContextText 把检索结果拼接为带出处标注的参考资料文本。
func buildContextText(passages []model.RetrievedPassage) string {
	if len(passages) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range passages {
		sb.WriteString(fmt.Sprintf("[Source %d] %s (page %d)\n%s\n\n", p.Rank, p.Record.FileName, p.Record.Page, p.Record.TextContent))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildCitations 把检索结果转换为响应中的出处引用列表。
func buildCitations(passages []model.RetrievedPassage) []model.SourceCitation {
	citations := make([]model.SourceCitation, 0, len(passages))
	for _, p := range passages {
		citations = append(citations, model.SourceCitation{
			SourceID: p.Rank,
			File:     p.Record.FileName,
			Page:     p.Record.Page,
			Preview:  truncateRunes(p.Record.TextContent, previewRuneLimit),
		})
	}
	return citations
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
