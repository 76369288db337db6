package entity

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// Image is an inline attachment sent alongside the last user message.
type Image struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"` // base64 in JSON
}

// RequestContext carries per-caller routing hints.
type RequestContext struct {
	UserID             string   `json:"user_id,omitempty"`
	SessionID          string   `json:"session_id,omitempty"`
	ConversationID     string   `json:"conversation_id,omitempty"`
	PreferredProviders []string `json:"preferred_providers,omitempty"`

	// nil means "no ceiling"; 0 means free models only.
	MaxCostPerRequest *float64 `json:"max_cost_per_request,omitempty"`
	QualityOverSpeed  *bool    `json:"quality_over_speed,omitempty"`
}

type GenerateRequest struct {
	Messages       []Message       `json:"messages" validate:"required,min=1,dive"`
	Model          string          `json:"model,omitempty"`
	Images         []Image         `json:"images,omitempty"`
	Context        *RequestContext `json:"context,omitempty"`
	FallbackModels []string        `json:"fallback_models,omitempty"`

	EnableWebSearch bool   `json:"enable_web_search,omitempty"`
	EnableRAG       bool   `json:"enable_rag,omitempty"`
	RAGQuery        string `json:"rag_query,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// Clone returns a copy whose message slice can be changed without touching r.
func (r GenerateRequest) Clone() GenerateRequest {
	out := r
	out.Messages = make([]Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	return out
}

func (r GenerateRequest) LastMessage() (Message, bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

func (r GenerateRequest) UserID() string {
	if r.Context == nil {
		return ""
	}
	return r.Context.UserID
}

// SessionKey identifies the conversation for per-session bookkeeping.
// Session id wins, then conversation id, then user id.
func (r GenerateRequest) SessionKey() string {
	if r.Context == nil {
		return ""
	}
	switch {
	case r.Context.SessionID != "":
		return r.Context.SessionID
	case r.Context.ConversationID != "":
		return r.Context.ConversationID
	default:
		return r.Context.UserID
	}
}
