package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/pkg/llm"
	"citizen-safety-go/pkg/log"

	"github.com/sony/gobreaker"
)

// Generator 定义了带熔断保护的回答生成接口。
type Generator interface {
	// Generate 基于脱敏后的问题和参考资料生成回答。
	// 熔断器打开或底层调用失败时返回 ErrGenerationUnavailable。
	Generate(ctx context.Context, maskedQuestion, contextText string) (string, error)
}

// 默认系统提示规则，可被配置覆盖。
const defaultPromptRules = `You are a helpful assistant for citizen safety and legal awareness in India.
Answer the user's question using ONLY the reference material between the markers.
If the reference material does not contain the answer, say you do not have enough information.
Keep answers concise, factual and easy to understand. Do not invent laws, sections or helpline numbers.
If the question describes an immediate emergency, tell the user to call 112 first.
The question may contain placeholders like <PERSON> or <PHONE_NUMBER> where personal data was removed; treat them as anonymous references.
End every answer with: "This is general guidance, not legal advice."`

const (
	defaultRefStart     = "===== REFERENCE MATERIAL START ====="
	defaultRefEnd       = "===== REFERENCE MATERIAL END ====="
	defaultNoResultText = "No relevant reference material was found for this question."
)

type generationService struct {
	llmClient llm.Client
	promptCfg config.LLMPromptConfig
	breaker   *gobreaker.CircuitBreaker
}

// NewGenerationService 创建一个新的 Generator 实例。
// 熔断策略：连续失败达到阈值后打开，冷却期结束放行一次试探请求，
// 试探成功恢复，失败重新打开。
func NewGenerationService(llmClient llm.Client, promptCfg config.LLMPromptConfig, breakerCfg config.BreakerConfig) Generator {
	threshold := breakerCfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cooldown := time.Duration(breakerCfg.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1, // half-open 只放行一个试探请求
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[Generation] 熔断器 '%s' 状态切换: %s -> %s", name, from, to)
		},
	}
	return &generationService{
		llmClient: llmClient,
		promptCfg: promptCfg,
		breaker:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *generationService) Generate(ctx context.Context, maskedQuestion, contextText string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: s.buildSystemPrompt(contextText)},
		{Role: "user", Content: maskedQuestion},
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.llmClient.ChatCompletion(ctx, messages, nil)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warnf("[Generation] 熔断器拒绝请求: %v", err)
			return "", fmt.Errorf("%w: circuit open", ErrGenerationUnavailable)
		}
		log.Errorf("[Generation] LLM 调用失败: %v", err)
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	return result.(string), nil
}

// buildSystemPrompt 把规则和参考资料拼接为系统提示。
// 检索为空时放入占位说明，让模型明确表示无据可答。
func (s *generationService) buildSystemPrompt(contextText string) string {
	rules := s.promptCfg.Rules
	if rules == "" {
		rules = defaultPromptRules
	}
	refStart := s.promptCfg.RefStart
	if refStart == "" {
		refStart = defaultRefStart
	}
	refEnd := s.promptCfg.RefEnd
	if refEnd == "" {
		refEnd = defaultRefEnd
	}
	if contextText == "" {
		contextText = s.promptCfg.NoResultText
		if contextText == "" {
			contextText = defaultNoResultText
		}
	}
	return fmt.Sprintf("%s\n\n%s\n%s\n%s", rules, refStart, contextText, refEnd)
}
