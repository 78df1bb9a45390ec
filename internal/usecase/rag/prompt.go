package rag

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

const promptFooter = "Use the documents above to answer. Prefer their content over general knowledge, " +
	"but if they do not contain enough information, answer from general knowledge and say so. " +
	"Cite the source document names when possible."

// FormatDocumentsForPrompt renders results as a context block for the system
// prompt. The output depends only on the input. Empty input gives "".
func FormatDocumentsForPrompt(results []domain.SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant documents:\n\n")
	for i, r := range results {
		name := r.Metadata.OriginalName
		if name == "" {
			name = r.Metadata.FileID
		}
		fmt.Fprintf(&b, "[%d] Source: %s (relevance %.2f)\n", i+1, name, r.Similarity)
		b.WriteString(strings.TrimSpace(r.Content))
		b.WriteString("\n\n")
	}
	b.WriteString(promptFooter)
	return b.String()
}
