package usecase

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"model-router/internal/domain/entity"
	"model-router/internal/domain/repository"
	"model-router/internal/prompts"

	log "github.com/sirupsen/logrus"
)

const (
	ragTopK          = 5
	webSearchResults = 3
)

// codeKeywords mark a message as a programming request.
var codeKeywords = []string{
	"code", "coding", "function", "functions", "script", "scripts", "program", "programming",
	"implement", "algorithm", "debug", "debugging", "snippet", "class", "method", "compile",
	"syntax", "regex", "sql", "api", "python", "javascript", "typescript", "golang", "java",
	"rust", "c++", "c#", "html", "css", "bash", "json", "refactor",
}

// IsCodeRequest reports whether text asks for programming help.
func IsCodeRequest(text string) bool {
	return matchesKeyword(text, codeKeywords)
}

// matchesKeyword reports whether text contains any keyword as a whole word.
// Multi-word keywords match a run of consecutive words.
func matchesKeyword(text string, keywords []string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	if len(words) == 0 {
		return false
	}
	joined := " " + strings.Join(words, " ") + " "
	for _, kw := range keywords {
		if strings.Contains(joined, " "+kw+" ") {
			return true
		}
	}
	return false
}

// Pipeline prepares a raw request for model selection. Every stage returns a
// new request; the input is never modified.
type Pipeline struct {
	prompts  *prompts.Table
	memory   repository.MemoryStore
	search   repository.WebSearcher
	language string
}

// NewPipeline builds a pipeline. memory and search may be nil; the matching stages are then skipped.
func NewPipeline(table *prompts.Table, memory repository.MemoryStore, search repository.WebSearcher) *Pipeline {
	if table == nil {
		table = prompts.Default()
	}
	return &Pipeline{prompts: table, memory: memory, search: search, language: "en"}
}

// Enhance runs every stage in order: identity, code reinforcement, RAG, web search.
func (p *Pipeline) Enhance(ctx context.Context, req entity.GenerateRequest) (entity.GenerateRequest, entity.Enrichment) {
	var enrichment entity.Enrichment

	out := p.InjectIdentity(req)
	out = p.ReinforceCode(out)
	out, enrichment.Memories = p.AddRAGContext(ctx, out)
	out, enrichment.SearchResults = p.AddWebSearch(ctx, out)
	return out, enrichment
}

// InjectIdentity guarantees exactly one leading system message carrying the
// model identity and formatting rules. Caller-supplied system text is kept as a suffix.
func (p *Pipeline) InjectIdentity(req entity.GenerateRequest) entity.GenerateRequest {
	out := req.Clone()
	system := p.prompts.SystemPrompt(req.Model)

	if len(out.Messages) > 0 && out.Messages[0].Role == entity.RoleSystem {
		if existing := out.Messages[0].Content; existing != "" {
			system = system + "\n\n" + existing
		}
		out.Messages[0].Content = system
		return out
	}

	out.Messages = append([]entity.Message{{Role: entity.RoleSystem, Content: system}}, out.Messages...)
	return out
}

// ReinforceCode prepends a code-fence reminder to the last message when it is
// a user message asking for code.
func (p *Pipeline) ReinforceCode(req entity.GenerateRequest) entity.GenerateRequest {
	last, ok := req.LastMessage()
	if !ok || last.Role != entity.RoleUser || !IsCodeRequest(last.Content) {
		return req
	}
	out := req.Clone()
	out.Messages[len(out.Messages)-1].Content = p.prompts.CodeReinforcement() + "\n\n" + last.Content
	return out
}

// stripReinforcement recovers the user's own words for collaborator queries.
func (p *Pipeline) stripReinforcement(content string) string {
	return strings.TrimPrefix(content, p.prompts.CodeReinforcement()+"\n\n")
}

// AddRAGContext appends the user's most relevant memories to the system message.
// Any failure returns req unchanged.
func (p *Pipeline) AddRAGContext(ctx context.Context, req entity.GenerateRequest) (entity.GenerateRequest, []entity.Memory) {
	userID := req.UserID()
	if !req.EnableRAG || userID == "" || p.memory == nil {
		return req, nil
	}

	query := req.RAGQuery
	if query == "" {
		if last, ok := req.LastMessage(); ok {
			query = p.stripReinforcement(last.Content)
		}
	}
	if strings.TrimSpace(query) == "" {
		return req, nil
	}

	memories, err := p.memory.SearchRelevantMemories(ctx, userID, query, ragTopK)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("RAG lookup failed, continuing without context")
		return req, nil
	}
	if len(memories) == 0 {
		return req, nil
	}

	var b strings.Builder
	b.WriteString("Relevant context from previous conversations:\n")
	for i, m := range memories {
		fmt.Fprintf(&b, "%d. [relevance %.2f] %s\n", i+1, m.RelevanceScore, strings.TrimSpace(m.Content))
	}
	block := strings.TrimRight(b.String(), "\n")

	out := req.Clone()
	if len(out.Messages) > 0 && out.Messages[0].Role == entity.RoleSystem {
		out.Messages[0].Content += "\n\n" + block
	} else {
		out.Messages = append([]entity.Message{{Role: entity.RoleSystem, Content: block}}, out.Messages...)
	}
	log.Debugf("RAG added %d memories for user %s", len(memories), userID)
	return out, memories
}

// AddWebSearch appends fresh search results to the last user message.
// Any failure returns req unchanged.
func (p *Pipeline) AddWebSearch(ctx context.Context, req entity.GenerateRequest) (entity.GenerateRequest, []entity.SearchResult) {
	if !req.EnableWebSearch || p.search == nil {
		return req, nil
	}
	last, ok := req.LastMessage()
	if !ok || last.Role != entity.RoleUser {
		return req, nil
	}

	results, err := p.search.SearchWeb(ctx, p.stripReinforcement(last.Content), entity.SearchOptions{
		MaxResults: webSearchResults,
		Language:   p.language,
	})
	if err != nil {
		log.WithError(err).Warn("web search failed, continuing without results")
		return req, nil
	}
	if len(results) == 0 {
		return req, nil
	}
	if len(results) > webSearchResults {
		results = results[:webSearchResults]
	}

	var b strings.Builder
	b.WriteString("Real-time web information:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\nURL: %s\n%s\n", i+1, r.Title, r.URL, strings.TrimSpace(r.Snippet))
	}
	b.WriteString("Use the information above when it is relevant and cite the URLs you rely on.")

	out := req.Clone()
	out.Messages[len(out.Messages)-1].Content = last.Content + "\n\n" + b.String()
	return out, results
}
