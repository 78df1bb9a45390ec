package domain

import "context"

type embeddingUsageKey struct{}

// EmbeddingUsage collects embedding token usage for a single request.
// The HTTP handler installs it; the RAG engine adds to it after embedding a
// query; the handler reports it in the X-Embedding-Tokens header.
type EmbeddingUsage struct {
	TotalTokens int
	Used        bool
	Fallback    bool
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// Add records one embedding call. Safe on a nil receiver.
func (u *EmbeddingUsage) Add(res EmbeddingResult) {
	if u == nil {
		return
	}
	u.TotalTokens += res.TotalTokens
	u.Used = true
	u.Fallback = u.Fallback || res.Fallback
}
