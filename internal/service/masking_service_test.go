package service

import (
	"context"
	"errors"
	"testing"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	entities []model.PIIEntity
	err      error
	calls    int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) ([]model.PIIEntity, error) {
	f.calls++
	return f.entities, f.err
}

func newTestMasker(analyzer nerAnalyzer) MaskingService {
	return NewMaskingService(analyzer, config.MaskingConfig{ScoreThreshold: 0.4})
}

func TestMaskPhoneNumberByRegex(t *testing.T) {
	m := newTestMasker(&fakeAnalyzer{})

	result, err := m.Mask(context.Background(), "Call me at +91 9876543210 please.")
	require.NoError(t, err)

	assert.True(t, result.PIIFound)
	assert.Equal(t, "Call me at <PHONE_NUMBER> please.", result.MaskedText)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "PHONE_NUMBER", result.Entities[0].Type)
	assert.Equal(t, 11, result.Entities[0].Start)
	assert.Equal(t, 25, result.Entities[0].End)
}

func TestMaskNEREntityWithRuneOffsets(t *testing.T) {
	// NER 返回的偏移是字符偏移，中文等多字节文本不能按字节处理
	text := "我叫张三，住在孟买。"
	analyzer := &fakeAnalyzer{entities: []model.PIIEntity{
		{Type: "PERSON", Score: 0.9, Start: 2, End: 4},
		{Type: "LOCATION", Score: 0.8, Start: 7, End: 9},
	}}
	m := newTestMasker(analyzer)

	result, err := m.Mask(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "我叫<PERSON>，住在<LOCATION>。", result.MaskedText)
	assert.Len(t, result.Entities, 2)
}

func TestMaskOverlapHigherScoreWins(t *testing.T) {
	text := "9876543210"
	// NER 以更高的分数覆盖了正则的 PHONE_NUMBER(0.5) 检测
	analyzer := &fakeAnalyzer{entities: []model.PIIEntity{
		{Type: "PERSON", Score: 0.9, Start: 0, End: 10},
	}}
	m := newTestMasker(analyzer)

	result, err := m.Mask(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "<PERSON>", result.MaskedText)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "PERSON", result.Entities[0].Type)
}

func TestMaskOverlapTiePrefersRegex(t *testing.T) {
	text := "9876543210"
	// 分数持平时，确定性的正则识别器胜出
	analyzer := &fakeAnalyzer{entities: []model.PIIEntity{
		{Type: "PERSON", Score: 0.5, Start: 0, End: 10},
	}}
	m := newTestMasker(analyzer)

	result, err := m.Mask(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "<PHONE_NUMBER>", result.MaskedText)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "PHONE_NUMBER", result.Entities[0].Type)
}

func TestMaskThresholdFiltersLowScores(t *testing.T) {
	analyzer := &fakeAnalyzer{entities: []model.PIIEntity{
		{Type: "PERSON", Score: 0.2, Start: 0, End: 4},
	}}
	m := newTestMasker(analyzer)

	result, err := m.Mask(context.Background(), "John asked a question")
	require.NoError(t, err)
	assert.False(t, result.PIIFound)
	assert.Equal(t, "John asked a question", result.MaskedText)
	assert.Empty(t, result.Entities)
}

func TestMaskNoPII(t *testing.T) {
	m := newTestMasker(&fakeAnalyzer{})

	result, err := m.Mask(context.Background(), "What is the procedure to file an FIR?")
	require.NoError(t, err)
	assert.False(t, result.PIIFound)
	assert.Equal(t, "What is the procedure to file an FIR?", result.MaskedText)
	assert.NotNil(t, result.Entities)
	assert.Empty(t, result.Entities)
}

func TestMaskFailClosedOnAnalyzerError(t *testing.T) {
	m := newTestMasker(&fakeAnalyzer{err: errors.New("connection refused")})

	result, err := m.Mask(context.Background(), "my number is 9876543210")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaskingFailure))
	// fail-closed：任何情况下都不返回部分脱敏的文本
	assert.Empty(t, result.MaskedText)
}

func TestMaskIdempotentOnMaskedText(t *testing.T) {
	m := newTestMasker(&fakeAnalyzer{})

	first, err := m.Mask(context.Background(), "send it to user@example.com and 9876543210")
	require.NoError(t, err)
	require.True(t, first.PIIFound)

	second, err := m.Mask(context.Background(), first.MaskedText)
	require.NoError(t, err)
	assert.False(t, second.PIIFound)
	assert.Equal(t, first.MaskedText, second.MaskedText)
}

func TestMaskEmailAndAadhaar(t *testing.T) {
	m := newTestMasker(&fakeAnalyzer{})

	result, err := m.Mask(context.Background(), "aadhaar 2345 6789 1234, mail raj@post.in")
	require.NoError(t, err)
	assert.Equal(t, "aadhaar <AADHAAR_NUMBER>, mail <EMAIL_ADDRESS>", result.MaskedText)
	assert.Len(t, result.Entities, 2)
}
