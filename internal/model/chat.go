package model

// PIIEntity 表示一次检测到的敏感信息片段。
// Start/End 是原始文本中的字符（rune）偏移，Score 取值 [0,1]。
type PIIEntity struct {
	Type  string  `json:"type"`
	Score float64 `json:"score"`
	Start int     `json:"start"`
	End   int     `json:"end"`
}

// MaskResult 是 PII 脱敏的结果。
type MaskResult struct {
	MaskedText string
	PIIFound   bool
	Entities   []PIIEntity
}

// RetrievedPassage 是一条检索结果：向量记录引用、距离（越小越相关）与名次。
type RetrievedPassage struct {
	Record   VectorRecord
	Distance float64
	Rank     int
}

// ChatRequest 是聊天入口的请求体。
type ChatRequest struct {
	Message string `json:"message" binding:"required,min=1,max=2000"`
}

// SourceCitation 是回答中引用的一条出处。
type SourceCitation struct {
	SourceID int    `json:"source_id"`
	File     string `json:"file"`
	Page     int    `json:"page"`
	Preview  string `json:"preview"`
}

// ChatResponse 是聊天入口的完整响应结构。
type ChatResponse struct {
	Response       string           `json:"response"`
	Sources        []SourceCitation `json:"sources"`
	Confidence     float64          `json:"confidence"`
	Latency        float64          `json:"latency"`
	PIIMasked      bool             `json:"pii_masked"`
	PIIEntities    []PIIEntity      `json:"pii_entities"`
	MaskedQuestion string           `json:"masked_question"`
	Error          string           `json:"error,omitempty"`
}
