package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"model-router/internal/domain/entity"

	"github.com/tidwall/gjson"
)

// WebSearchClient queries a SearxNG-compatible JSON search API.
type WebSearchClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewWebSearchClient(baseURL, apiKey string, httpClient *http.Client) *WebSearchClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebSearchClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

func (w *WebSearchClient) SearchWeb(ctx context.Context, query string, opts entity.SearchOptions) ([]entity.SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if w.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	httpResp, err := w.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read web search response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned status %d", httpResp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("web search returned invalid JSON")
	}

	var results []entity.SearchResult
	gjson.GetBytes(body, "results").ForEach(func(_, r gjson.Result) bool {
		if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
			return false
		}
		results = append(results, entity.SearchResult{
			Title:   r.Get("title").String(),
			URL:     r.Get("url").String(),
			Snippet: r.Get("content").String(),
		})
		return true
	})
	return results, nil
}
