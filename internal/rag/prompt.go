package rag

import (
	"fmt"
	"strings"

	"docqa/internal/domain"
)

const SystemPrompt = `You are a knowledgeable assistant that answers questions based on provided context.

IMPORTANT INSTRUCTIONS:
1. Answer questions ONLY using the information provided in the context below
2. If the context doesn't contain enough information to answer the question, say "I don't have enough information in the knowledge base to answer this question"
3. Do NOT make up information or use knowledge outside the provided context
4. Be concise and accurate
5. If you reference specific information, mention which source it came from
6. Use clear, simple language appropriate for the topic

Your goal is to provide accurate, helpful answers while avoiding hallucinations.`

const questionTemplate = `Context from knowledge base:
%s

Question: %s

Answer based on the context above:`

// NoContextResponse is returned without calling the model when retrieval
// finds nothing.
const NoContextResponse = "I don't have enough information in the knowledge base to answer this question. Please try uploading relevant documents or rephrase your question."

const contextSeparator = "\n\n---\n\n"

// FormatContext renders retrieved passages as labelled blocks in retrieval
// order. No results yield "".
func FormatContext(results []domain.RetrievalResult) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Source %d: %s, Page %d]\n%s", i+1, sourceName(r.Passage), r.Passage.Page, r.Passage.Text)
	}
	return strings.Join(parts, contextSeparator)
}

// BuildPrompt returns the system and user prompts. ok is false when context is
// empty, in which case no generation should happen.
func BuildPrompt(question, context string) (system, user string, ok bool) {
	if context == "" {
		return SystemPrompt, NoContextResponse, false
	}
	return SystemPrompt, fmt.Sprintf(questionTemplate, context, question), true
}

// ExtractSources lists "<source> - Page <page>" once per distinct pair, in
// first-seen order.
func ExtractSources(results []domain.RetrievalResult) []string {
	sources := make([]string, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		s := fmt.Sprintf("%s - Page %d", sourceName(r.Passage), r.Passage.Page)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		sources = append(sources, s)
	}
	return sources
}

// Preview joins the first chars characters of the first n passages with blank
// lines. Truncated passages end in "...".
func Preview(results []domain.RetrievalResult, n, chars int) string {
	if n > len(results) {
		n = len(results)
	}
	parts := make([]string, 0, n)
	for _, r := range results[:n] {
		text := []rune(r.Passage.Text)
		if chars >= 0 && len(text) > chars {
			parts = append(parts, string(text[:chars])+"...")
			continue
		}
		parts = append(parts, string(text))
	}
	return strings.Join(parts, "\n\n")
}

func sourceName(p domain.Passage) string {
	if p.Source == "" {
		return "Unknown"
	}
	return p.Source
}
