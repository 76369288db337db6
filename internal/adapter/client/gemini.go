package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"model-router/internal/domain/entity"

	"google.golang.org/genai"
)

// GeminiClient serves Gemini models through a shared genai client.
type GeminiClient struct {
	client *genai.Client
	id     string
}

// NewGeminiClient opens a dedicated Gemini API client for providers that carry their own key.
func NewGeminiClient(ctx context.Context, id, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini provider %s: api key is empty", id)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini provider %s: %w", id, err)
	}
	return &GeminiClient{client: client, id: id}, nil
}

func NewGeminiClientFromClient(c *genai.Client, id string) *GeminiClient {
	return &GeminiClient{
		client: c,
		id:     id,
	}
}

func (g *GeminiClient) ID() string {
	return g.id
}

func (g *GeminiClient) GenerateText(ctx context.Context, req entity.ProviderRequest) (*entity.ProviderResponse, error) {
	contents, config := buildGeminiRequest(req)
	result, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, g.wrapError(req.Model, err)
	}

	resp := &entity.ProviderResponse{
		Content: result.Text(),
		Model:   req.Model,
	}
	if result.ModelVersion != "" {
		resp.Model = result.ModelVersion
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = &entity.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
		}
	}
	for _, fc := range result.FunctionCalls() {
		args, _ := json.Marshal(fc.Args)
		resp.ToolCalls = append(resp.ToolCalls, entity.ToolCall{ID: fc.ID, Name: fc.Name, Arguments: string(args)})
	}
	return resp, nil
}

func (g *GeminiClient) GenerateStream(ctx context.Context, req entity.ProviderRequest) iter.Seq2[entity.StreamDelta, error] {
	contents, config := buildGeminiRequest(req)
	return func(yield func(entity.StreamDelta, error) bool) {
		for chunk, err := range g.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				yield(entity.StreamDelta{}, g.wrapError(req.Model, err))
				return
			}
			delta := entity.StreamDelta{Text: chunk.Text()}
			if u := chunk.UsageMetadata; u != nil {
				delta.Metadata = map[string]any{
					"prompt_tokens":     int(u.PromptTokenCount),
					"completion_tokens": int(u.CandidatesTokenCount),
				}
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// Ping lists a single model, which needs a valid key and a reachable endpoint.
func (g *GeminiClient) Ping(ctx context.Context) error {
	_, err := g.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	if err != nil {
		return g.wrapError("", err)
	}
	return nil
}

func (g *GeminiClient) wrapError(model string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &entity.ProviderError{Provider: g.id, Model: model, Retryable: true, Err: err}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.Code
		pe.Retryable = entity.RetryableStatus(apiErr.Code)
	}
	return pe
}

// buildGeminiRequest moves system messages into the system instruction and
// attaches images to the last user turn.
func buildGeminiRequest(req entity.ProviderRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{Temperature: req.Temperature}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	lastUser := -1
	for _, m := range req.Messages {
		switch m.Role {
		case entity.RoleSystem:
			system = append(system, m.Content)
		case entity.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
			lastUser = len(contents) - 1
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	if len(req.Images) > 0 {
		if lastUser < 0 {
			contents = append(contents, &genai.Content{Role: genai.RoleUser})
			lastUser = len(contents) - 1
		}
		for _, img := range req.Images {
			contents[lastUser].Parts = append(contents[lastUser].Parts, genai.NewPartFromBytes(img.Data, img.MimeType))
		}
	}
	return contents, config
}
