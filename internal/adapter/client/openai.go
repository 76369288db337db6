package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"model-router/internal/domain/entity"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// maxErrorBodySize caps how much of an upstream error body is read.
	maxErrorBodySize = 1 << 20
	maxStreamLine    = 50 << 20
)

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI itself, Ollama, LM Studio, vLLM, ...).
type OpenAIClient struct {
	id      string
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewOpenAIClient(id, baseURL, apiKey string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &OpenAIClient{
		id:      id,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

func (o *OpenAIClient) ID() string {
	return o.id
}

func (o *OpenAIClient) GenerateText(ctx context.Context, req entity.ProviderRequest) (*entity.ProviderResponse, error) {
	payload, err := buildOpenAIPayload(req, false)
	if err != nil {
		return nil, err
	}
	httpResp, err := o.post(ctx, req.Model, payload)
	if err != nil {
		return nil, err
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("openai client: close response body error: %v", errClose)
		}
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, o.providerErr(req.Model, 0, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, o.providerErr(req.Model, 0, errors.New("malformed response body"))
	}
	if !gjson.GetBytes(body, "choices.0").Exists() {
		return nil, o.providerErr(req.Model, 0, errors.New("response has no choices"))
	}
	return parseOpenAIResponse(body, req.Model), nil
}

func (o *OpenAIClient) GenerateStream(ctx context.Context, req entity.ProviderRequest) iter.Seq2[entity.StreamDelta, error] {
	return func(yield func(entity.StreamDelta, error) bool) {
		payload, err := buildOpenAIPayload(req, true)
		if err != nil {
			yield(entity.StreamDelta{}, err)
			return
		}
		httpResp, err := o.post(ctx, req.Model, payload)
		if err != nil {
			yield(entity.StreamDelta{}, err)
			return
		}
		defer func() {
			if errClose := httpResp.Body.Close(); errClose != nil {
				log.Errorf("openai client: close stream body error: %v", errClose)
			}
		}()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(nil, maxStreamLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			// SSE lines are prefixed with "data: "; everything else is keep-alive noise.
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data := bytes.TrimSpace(line[len("data:"):])
			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}
			delta, ok := parseOpenAIStreamChunk(data)
			if !ok {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(entity.StreamDelta{}, o.providerErr(req.Model, 0, err))
		}
	}
}

// Ping lists models, which every compatible server implements.
func (o *OpenAIClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	o.authorize(httpReq)
	httpResp, err := o.http.Do(httpReq)
	if err != nil {
		return o.providerErr("", 0, err)
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, maxErrorBodySize))
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return o.providerErr("", httpResp.StatusCode, fmt.Errorf("unexpected status %s", httpResp.Status))
	}
	return nil
}

func (o *OpenAIClient) post(ctx context.Context, model string, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	o.authorize(httpReq)

	httpResp, err := o.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, o.providerErr(model, 0, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodySize))
		httpResp.Body.Close()
		msg := gjson.GetBytes(b, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(b))
		}
		return nil, o.providerErr(model, httpResp.StatusCode, errors.New(msg))
	}
	return httpResp, nil
}

func (o *OpenAIClient) authorize(r *http.Request) {
	if o.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

func (o *OpenAIClient) providerErr(model string, status int, err error) *entity.ProviderError {
	retryable := true
	if status != 0 {
		retryable = entity.RetryableStatus(status)
	}
	return &entity.ProviderError{Provider: o.id, Model: model, StatusCode: status, Retryable: retryable, Err: err}
}

func buildOpenAIPayload(req entity.ProviderRequest, stream bool) ([]byte, error) {
	payload := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err == nil {
			payload, err = sjson.SetBytes(payload, path, value)
		}
	}

	set("model", req.Model)
	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == entity.RoleUser {
			lastUser = i
		}
	}
	for i, m := range req.Messages {
		prefix := fmt.Sprintf("messages.%d", i)
		set(prefix+".role", string(m.Role))
		if i != lastUser || len(req.Images) == 0 {
			set(prefix+".content", m.Content)
			continue
		}
		set(prefix+".content.0.type", "text")
		set(prefix+".content.0.text", m.Content)
		for j, img := range req.Images {
			part := fmt.Sprintf("%s.content.%d", prefix, j+1)
			set(part+".type", "image_url")
			set(part+".image_url.url", "data:"+img.MimeType+";base64,"+base64.StdEncoding.EncodeToString(img.Data))
		}
	}
	if req.Temperature != nil {
		set("temperature", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		set("max_tokens", req.MaxTokens)
	}
	if stream {
		set("stream", true)
		set("stream_options.include_usage", true)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build chat payload: %w", err)
	}
	return payload, nil
}

func parseOpenAIResponse(body []byte, requested string) *entity.ProviderResponse {
	resp := &entity.ProviderResponse{
		Content: gjson.GetBytes(body, "choices.0.message.content").String(),
		Model:   requested,
	}
	if m := gjson.GetBytes(body, "model").String(); m != "" {
		resp.Model = m
	}
	if usage := gjson.GetBytes(body, "usage"); usage.Exists() {
		resp.Usage = &entity.Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
		}
	}
	gjson.GetBytes(body, "choices.0.message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		resp.ToolCalls = append(resp.ToolCalls, entity.ToolCall{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
		return true
	})
	return resp
}

func parseOpenAIStreamChunk(data []byte) (entity.StreamDelta, bool) {
	if !gjson.ValidBytes(data) {
		return entity.StreamDelta{}, false
	}
	delta := entity.StreamDelta{Text: gjson.GetBytes(data, "choices.0.delta.content").String()}
	if usage := gjson.GetBytes(data, "usage"); usage.Exists() && usage.IsObject() {
		delta.Metadata = map[string]any{
			"prompt_tokens":     int(usage.Get("prompt_tokens").Int()),
			"completion_tokens": int(usage.Get("completion_tokens").Int()),
		}
	}
	if delta.Text == "" && delta.Metadata == nil {
		return entity.StreamDelta{}, false
	}
	return delta, true
}
