package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"model-router/internal/domain/entity"
	"model-router/internal/prompts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectIdentityForKnownModel(t *testing.T) {
	table := prompts.Default()
	p := NewPipeline(table, nil, nil)
	req := userRequest("hello")
	req.Model = "gpt-4o"

	out := p.InjectIdentity(req)

	require.Len(t, out.Messages, 2)
	system := out.Messages[0]
	assert.Equal(t, entity.RoleSystem, system.Role)
	assert.True(t, strings.HasPrefix(system.Content, "You are ChatGPT"))
	assert.Contains(t, system.Content, table.FormattingRules())
	assert.Contains(t, system.Content, "same language")
	assert.Contains(t, system.Content, "LaTeX")
	assert.Equal(t, req.Messages[0], out.Messages[1])
}

func TestInjectIdentityUnknownModelUsesDefault(t *testing.T) {
	p := NewPipeline(nil, nil, nil)
	out := p.InjectIdentity(userRequest("hello"))
	assert.True(t, strings.HasPrefix(out.Messages[0].Content, "You are a helpful AI assistant"))
}

func TestInjectIdentityKeepsSingleSystemMessage(t *testing.T) {
	p := NewPipeline(nil, nil, nil)
	req := entity.GenerateRequest{Messages: []entity.Message{
		{Role: entity.RoleSystem, Content: "Be terse."},
		{Role: entity.RoleUser, Content: "hello"},
	}}

	out := p.InjectIdentity(req)
	again := p.InjectIdentity(out)

	for _, r := range []entity.GenerateRequest{out, again} {
		require.Len(t, r.Messages, 2)
		assert.Equal(t, entity.RoleSystem, r.Messages[0].Role)
		assert.Equal(t, entity.RoleUser, r.Messages[1].Role)
		assert.True(t, strings.HasSuffix(r.Messages[0].Content, "Be terse."))
	}
	assert.Equal(t, "Be terse.", req.Messages[0].Content, "input untouched")
}

func TestReinforceCode(t *testing.T) {
	table := prompts.Default()
	p := NewPipeline(table, nil, nil)
	req := userRequest("write a function to reverse a string")

	out, _ := p.Enhance(context.Background(), req)

	last, _ := out.LastMessage()
	assert.True(t, strings.HasPrefix(last.Content, table.CodeReinforcement()))
	assert.True(t, strings.HasSuffix(last.Content, "write a function to reverse a string"))
	assert.Equal(t, "write a function to reverse a string", req.Messages[0].Content, "input untouched")
}

func TestReinforceCodeSkipsAssistantTail(t *testing.T) {
	p := NewPipeline(nil, nil, nil)
	req := entity.GenerateRequest{Messages: []entity.Message{
		{Role: entity.RoleUser, Content: "hi"},
		{Role: entity.RoleAssistant, Content: "here is some code"},
	}}
	assert.Equal(t, req, p.ReinforceCode(req))
}

func TestNonCodeRequestOnlyGetsIdentity(t *testing.T) {
	p := NewPipeline(nil, nil, nil)
	req := userRequest("tell me about the weather in lisbon")

	out, enrichment := p.Enhance(context.Background(), req)

	assert.Equal(t, p.InjectIdentity(req), out)
	assert.Equal(t, req.Messages[0], out.Messages[1])
	assert.Empty(t, enrichment.Memories)
	assert.Empty(t, enrichment.SearchResults)
}

func TestReinforceCodeIgnoresWordsContainingKeywords(t *testing.T) {
	p := NewPipeline(nil, nil, nil)
	req := userRequest("what is the capital of France")

	out := p.ReinforceCode(req)

	assert.Equal(t, req, out)
}

func TestIsCodeRequest(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Write a Python script", true},
		{"how do I DEBUG this", true},
		{"fix my SQL query", true},
		{"what is the capital of France", false},
		{"do you trust me?", false},
		{"tell me about classic movies", false},
		{"a rapid summary of the news", false},
		{"port this to C++", true},
		{"call the REST api, then parse the JSON", true},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCodeRequest(tt.text))
		})
	}
}

func ragRequest(text string) entity.GenerateRequest {
	req := userRequest(text)
	req.EnableRAG = true
	req.Context = &entity.RequestContext{UserID: "u1"}
	return req
}

func TestAddRAGContextFailureLeavesRequestUnchanged(t *testing.T) {
	memory := &fakeMemory{err: errors.New("qdrant unavailable")}
	p := NewPipeline(nil, memory, nil)
	before := p.InjectIdentity(ragRequest("what did we discuss?"))

	after, memories := p.AddRAGContext(context.Background(), before)

	assert.Equal(t, before.Messages, after.Messages)
	assert.Nil(t, memories)
}

func TestAddRAGContextAppendsToSystemMessage(t *testing.T) {
	memory := &fakeMemory{memories: []entity.Memory{
		{Content: "user likes Go", RelevanceScore: 0.91, Source: "conversation:c1"},
		{Content: "user lives in Porto", RelevanceScore: 0.5},
	}}
	p := NewPipeline(nil, memory, nil)

	out, enrichment := p.Enhance(context.Background(), ragRequest("recommend a language"))

	require.Len(t, out.Messages, 2)
	system := out.Messages[0].Content
	assert.Contains(t, system, "Relevant context from previous conversations:")
	assert.Contains(t, system, "1. [relevance 0.91] user likes Go")
	assert.Contains(t, system, "2. [relevance 0.50] user lives in Porto")
	assert.Len(t, enrichment.Memories, 2)
	assert.Equal(t, []string{"recommend a language"}, memory.queries)
}

func TestAddRAGContextQuery(t *testing.T) {
	tests := []struct {
		name  string
		req   func() entity.GenerateRequest
		query string
	}{
		{
			name:  "explicit rag query",
			req:   func() entity.GenerateRequest { r := ragRequest("hi"); r.RAGQuery = "travel plans"; return r },
			query: "travel plans",
		},
		{
			name:  "reinforcement stripped",
			req:   func() entity.GenerateRequest { return ragRequest("write a function to sort") },
			query: "write a function to sort",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memory := &fakeMemory{}
			p := NewPipeline(nil, memory, nil)
			p.Enhance(context.Background(), tt.req())
			assert.Equal(t, []string{tt.query}, memory.queries)
		})
	}
}

func TestAddRAGContextSkipped(t *testing.T) {
	tests := []struct {
		name string
		req  entity.GenerateRequest
	}{
		{"disabled", func() entity.GenerateRequest { r := ragRequest("x"); r.EnableRAG = false; return r }()},
		{"anonymous", func() entity.GenerateRequest { r := ragRequest("x"); r.Context = nil; return r }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memory := &fakeMemory{}
			p := NewPipeline(nil, memory, nil)
			out, memories := p.AddRAGContext(context.Background(), tt.req)
			assert.Equal(t, tt.req, out)
			assert.Nil(t, memories)
			assert.Empty(t, memory.queries)
		})
	}
}

func TestAddWebSearch(t *testing.T) {
	search := &fakeSearch{results: []entity.SearchResult{
		{Title: "One", URL: "https://one.example", Snippet: "first"},
		{Title: "Two", URL: "https://two.example", Snippet: "second"},
		{Title: "Three", URL: "https://three.example", Snippet: "third"},
		{Title: "Four", URL: "https://four.example", Snippet: "fourth"},
	}}
	p := NewPipeline(nil, nil, search)
	req := userRequest("latest go release")
	req.EnableWebSearch = true

	out, enrichment := p.Enhance(context.Background(), req)

	last, _ := out.LastMessage()
	assert.True(t, strings.HasPrefix(last.Content, "latest go release\n\nReal-time web information:"))
	assert.Contains(t, last.Content, "[1] One\nURL: https://one.example\nfirst")
	assert.Contains(t, last.Content, "[3] Three")
	assert.NotContains(t, last.Content, "Four")
	assert.Len(t, enrichment.SearchResults, 3)
	assert.Equal(t, "latest go release", search.query)
	assert.Equal(t, entity.SearchOptions{MaxResults: 3, Language: "en"}, search.opts)
}

func TestAddWebSearchFailureLeavesRequestUnchanged(t *testing.T) {
	p := NewPipeline(nil, nil, &fakeSearch{err: errors.New("search down")})
	req := userRequest("news today")
	req.EnableWebSearch = true

	out, results := p.AddWebSearch(context.Background(), req)
	assert.Equal(t, req, out)
	assert.Nil(t, results)
}
