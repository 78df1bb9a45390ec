package rag

import (
	"strings"
	"testing"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

func TestFormatDocumentsForPrompt_Empty(t *testing.T) {
	if got := FormatDocumentsForPrompt(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestFormatDocumentsForPrompt(t *testing.T) {
	results := []domain.SearchResult{
		{Content: " Cats sleep a lot. ", Similarity: 0.91, Metadata: domain.RecordMetadata{FileID: "f1", OriginalName: "cats.pdf"}},
		{Content: "Dogs bark.", Similarity: 0.5, Metadata: domain.RecordMetadata{FileID: "f2"}},
	}

	got := FormatDocumentsForPrompt(results)
	want := "Relevant documents:\n\n" +
		"[1] Source: cats.pdf (relevance 0.91)\nCats sleep a lot.\n\n" +
		"[2] Source: f2 (relevance 0.50)\nDogs bark.\n\n" +
		promptFooter
	if got != want {
		t.Errorf("unexpected prompt:\n%s\nwant:\n%s", got, want)
	}
	if FormatDocumentsForPrompt(results) != got {
		t.Error("output must be deterministic")
	}
	if !strings.Contains(got, "general knowledge") || !strings.Contains(got, "Cite") {
		t.Error("footer must instruct fallback and citation")
	}
}
