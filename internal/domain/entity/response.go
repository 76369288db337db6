package entity

import (
	"slices"
	"time"
)

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ProviderRequest is what a provider adapter receives: the fully prepared
// request with the concrete model substituted in.
type ProviderRequest struct {
	Model       string
	Messages    []Message
	Images      []Image
	Temperature *float32
	MaxTokens   int
}

// ProviderResponse is the normalized result every adapter converts into.
type ProviderResponse struct {
	Content   string
	Usage     *Usage
	ToolCalls []ToolCall
	Model     string
}

// StreamDelta is a single piece of a provider stream.
type StreamDelta struct {
	Text     string
	Metadata map[string]any
}

type Memory struct {
	Content        string  `json:"content"`
	RelevanceScore float32 `json:"relevance_score"`
	Source         string  `json:"source"`
}

type Conversation struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type SearchOptions struct {
	MaxResults int
	Language   string
}

// Enrichment records what the pipeline pulled in from collaborators.
type Enrichment struct {
	Memories      []Memory       `json:"rag_results,omitempty"`
	SearchResults []SearchResult `json:"web_search_results,omitempty"`
}

type EnhancedGenerateResponse struct {
	Content            string        `json:"content"`
	ActualModel        string        `json:"actual_model"`
	Provider           string        `json:"provider"`
	FallbacksAttempted []string      `json:"fallbacks_attempted"`
	Cost               float64       `json:"cost"`
	Usage              Usage         `json:"usage"`
	ToolCalls          []ToolCall    `json:"tool_calls,omitempty"`
	Enrichment         Enrichment    `json:"enrichment"`
	CacheHit           bool          `json:"cache_hit"`
	ProcessingTime     time.Duration `json:"processing_time_ns"`
}

// Clone copies the slices a caller may append to, so cached and shared
// responses stay untouched.
func (r *EnhancedGenerateResponse) Clone() *EnhancedGenerateResponse {
	if r == nil {
		return nil
	}
	out := *r
	out.FallbacksAttempted = slices.Clone(r.FallbacksAttempted)
	out.ToolCalls = slices.Clone(r.ToolCalls)
	out.Enrichment.Memories = slices.Clone(r.Enrichment.Memories)
	out.Enrichment.SearchResults = slices.Clone(r.Enrichment.SearchResults)
	return &out
}

type StreamChunk struct {
	Text     string         `json:"text"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
