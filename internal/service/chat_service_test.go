package service

import (
	"context"
	"strings"
	"testing"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMasker struct {
	result model.MaskResult
	err    error
}

func (f *fakeMasker) Mask(ctx context.Context, text string) (model.MaskResult, error) {
	if f.err != nil {
		return model.MaskResult{}, f.err
	}
	if f.result.MaskedText == "" {
		return model.MaskResult{MaskedText: text, Entities: []model.PIIEntity{}}, nil
	}
	return f.result, nil
}

type fakeRetriever struct {
	passages []model.RetrievedPassage
	gotQuery string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, maskedQuery string, k, fetchK int) []model.RetrievedPassage {
	f.gotQuery = maskedQuery
	return f.passages
}

type fakeGenerator struct {
	answer      string
	err         error
	calls       int
	gotQuestion string
	gotContext  string
}

func (f *fakeGenerator) Generate(ctx context.Context, maskedQuestion, contextText string) (string, error) {
	f.calls++
	f.gotQuestion = maskedQuestion
	f.gotContext = contextText
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func testPassage(rank int, file string, page int, text string, distance float64) model.RetrievedPassage {
	return model.RetrievedPassage{
		Record:   model.VectorRecord{FileName: file, Page: page, TextContent: text},
		Distance: distance,
		Rank:     rank,
	}
}

func TestAnswerFullPipeline(t *testing.T) {
	retriever := &fakeRetriever{passages: []model.RetrievedPassage{
		testPassage(1, "consumer_rights.txt", 3, "Consumers can call the 1915 helpline.", 0.4),
		testPassage(2, "consumer_rights.txt", 5, "Complaints can be filed online.", 0.8),
	}}
	generator := &fakeGenerator{answer: "You can call the 1915 helpline."}
	svc := NewChatService(&fakeMasker{}, retriever, generator, config.RetrievalConfig{TopK: 3, FetchK: 12})

	resp, err := svc.Answer(context.Background(), "how do I complain about a defective product?")
	require.NoError(t, err)

	assert.Equal(t, "You can call the 1915 helpline.", resp.Response)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, resp.Sources[0].SourceID)
	assert.Equal(t, "consumer_rights.txt", resp.Sources[0].File)
	assert.Equal(t, 3, resp.Sources[0].Page)
	assert.Equal(t, 2, resp.Sources[1].SourceID)
	// 置信度由最优距离折算：(2-0.4)/2*100 = 80
	assert.InDelta(t, 80.0, resp.Confidence, 1e-9)
	assert.GreaterOrEqual(t, resp.Latency, 0.0)
	assert.False(t, resp.PIIMasked)
	assert.Empty(t, resp.Error)

	// 生成器收到的参考资料带出处标注
	assert.Contains(t, generator.gotContext, "[Source 1] consumer_rights.txt (page 3)")
	assert.Contains(t, generator.gotContext, "1915 helpline")
}

func TestAnswerRawQuestionNeverLeavesMaskingBoundary(t *testing.T) {
	masker := &fakeMasker{result: model.MaskResult{
		MaskedText: "my number is <PHONE_NUMBER>, is it safe to share it?",
		PIIFound:   true,
		Entities:   []model.PIIEntity{{Type: "PHONE_NUMBER", Score: 0.5, Start: 13, End: 23}},
	}}
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{answer: "never share your number publicly"}
	svc := NewChatService(masker, retriever, generator, config.RetrievalConfig{TopK: 3, FetchK: 12})

	resp, err := svc.Answer(context.Background(), "my number is 9876543210, is it safe to share it?")
	require.NoError(t, err)

	// 检索和生成看到的都只能是脱敏后的文本
	assert.NotContains(t, retriever.gotQuery, "9876543210")
	assert.NotContains(t, generator.gotQuestion, "9876543210")
	assert.Contains(t, generator.gotQuestion, "<PHONE_NUMBER>")

	assert.True(t, resp.PIIMasked)
	require.Len(t, resp.PIIEntities, 1)
	assert.Equal(t, "PHONE_NUMBER", resp.PIIEntities[0].Type)
	assert.Equal(t, "my number is <PHONE_NUMBER>, is it safe to share it?", resp.MaskedQuestion)
}

func TestAnswerMaskingFailureAborts(t *testing.T) {
	generator := &fakeGenerator{answer: "should not be called"}
	svc := NewChatService(&fakeMasker{err: ErrMaskingFailure}, &fakeRetriever{}, generator, config.RetrievalConfig{})

	resp, err := svc.Answer(context.Background(), "question")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaskingFailure)
	assert.Nil(t, resp)
	assert.Equal(t, 0, generator.calls)
}

func TestAnswerGenerationUnavailableDegrades(t *testing.T) {
	retriever := &fakeRetriever{passages: []model.RetrievedPassage{
		testPassage(1, "a.txt", 1, "some text", 0.5),
	}}
	svc := NewChatService(&fakeMasker{}, retriever, &fakeGenerator{err: ErrGenerationUnavailable}, config.RetrievalConfig{})

	resp, err := svc.Answer(context.Background(), "question")
	require.NoError(t, err)

	assert.Equal(t, generationDownMessage, resp.Error)
	assert.Empty(t, resp.Response)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.Confidence)
	assert.NotNil(t, resp.PIIEntities)
}

func TestAnswerNoPassages(t *testing.T) {
	generator := &fakeGenerator{answer: "I do not have enough information."}
	svc := NewChatService(&fakeMasker{}, &fakeRetriever{}, generator, config.RetrievalConfig{})

	resp, err := svc.Answer(context.Background(), "something obscure")
	require.NoError(t, err)

	assert.Empty(t, generator.gotContext)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.Confidence)
	assert.Equal(t, "I do not have enough information.", resp.Response)
}

func TestAnswerAbusiveQueryRejected(t *testing.T) {
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{answer: "should not be called"}
	svc := NewChatService(&fakeMasker{}, retriever, generator, config.RetrievalConfig{})

	resp, err := svc.Answer(context.Background(), "you are a useless idiot")
	require.NoError(t, err)

	assert.Equal(t, abusiveQueryMessage, resp.Error)
	assert.Empty(t, resp.Response)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.Confidence)
	// 不当请求不进入后续链路
	assert.Empty(t, retriever.gotQuery)
	assert.Equal(t, 0, generator.calls)
}

func TestIsAbusiveQueryWholeWordsOnly(t *testing.T) {
	assert.True(t, isAbusiveQuery("this is NONSENSE"))
	assert.True(t, isAbusiveQuery("shut up and answer"))
	// 子串不命中整词匹配
	assert.False(t, isAbusiveQuery("what are the skill development schemes?"))
	assert.False(t, isAbusiveQuery("how do I report a hit-and-run?"))
}

func TestAnswerPreviewTruncatedTo300Runes(t *testing.T) {
	longText := strings.Repeat("法", 400)
	retriever := &fakeRetriever{passages: []model.RetrievedPassage{
		testPassage(1, "law.txt", 1, longText, 0.3),
	}}
	svc := NewChatService(&fakeMasker{}, retriever, &fakeGenerator{answer: "ok"}, config.RetrievalConfig{})

	resp, err := svc.Answer(context.Background(), "question")
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, 300, len([]rune(resp.Sources[0].Preview)))
	assert.Equal(t, strings.Repeat("法", 300), resp.Sources[0].Preview)
}
