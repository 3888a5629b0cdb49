package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

const ocrPrompt = `Extract all legible body text from this scanned document page.
Preserve the natural reading order, including columns and numbered paragraphs.
Ignore headers, footers, page numbers and watermarks that repeat across pages.
Return plain text only, with no commentary. If the page has no legible text, return nothing.`

const paraphraseSystemPrompt = `You rewrite search questions for a legal document retrieval system.
Produce alternative phrasings that keep the meaning of the question but vary vocabulary,
for example statutory terms versus plain language. Output one question per line with no numbering or commentary.`

// NoOutput is the marker the extraction prompt asks for when nothing is relevant.
const NoOutput = "NO_OUTPUT"

const extractionSystemPrompt = `Given a question and a context passage, extract verbatim any sentences of the context
that are relevant to answering the question. Do not add, rephrase or summarise anything.
If no part of the context is relevant, return exactly ` + NoOutput + `.`

const answerSystemPrompt = `You are a legal document assistant. Answer the user's question using only the provided
document excerpts. Be precise, cite the source file and page of the excerpts you rely on, and do not speculate.
If you don't know the answer, or the excerpts do not contain it, just say "I don't have enough information in the provided documents."
Do not try to make up an answer.`

// ExtractPageText reads a rendered page image. It makes a single attempt;
// callers own the retry policy for OCR.
func (c *Client) ExtractPageText(ctx context.Context, png []byte) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		UserPrompt:  ocrPrompt,
		Images:      [][]byte{png},
		Model:       c.visionModel,
		Temperature: 0.01,
		MaxTokens:   4096,
		Attempts:    1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to extract page text: %w", err)
	}
	return resp.Content, nil
}

// Paraphrase asks for up to n rewordings of query. The result excludes the
// original query, duplicates and empty lines, and may be empty.
func (c *Client) Paraphrase(ctx context.Context, query string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: paraphraseSystemPrompt,
		UserPrompt:   fmt.Sprintf("Write %d alternative versions of this question:\n%s", n, query),
		Temperature:  0.7,
		MaxTokens:    300,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to paraphrase query: %w", err)
	}

	variants := ParseParaphrases(resp.Content, query, n)
	logger.Debug("Query paraphrased", zap.Int("variants", len(variants)))
	return variants, nil
}

// ExtractRelevant returns the sentences of passage relevant to query, or ""
// when the model reports nothing relevant.
func (c *Client) ExtractRelevant(ctx context.Context, query, passage string) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   fmt.Sprintf("Question: %s\n\nContext:\n>>>\n%s\n>>>\n\nRelevant parts:", query, passage),
		Temperature:  0.01,
		MaxTokens:    800,
	})
	if err != nil {
		return "", fmt.Errorf("failed to extract relevant text: %w", err)
	}
	return ParseExtraction(resp.Content), nil
}

// ContextPassage is an excerpt handed to answer generation.
type ContextPassage struct {
	SourceFile string
	PageNumber int
	Text       string
}

func (c *Client) GenerateAnswer(ctx context.Context, question string, passages []ContextPassage) (string, error) {
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s, page %d\n%s\n\n", i+1, p.SourceFile, p.PageNumber, p.Text)
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   fmt.Sprintf("Document excerpts:\n\n%s\nQuestion: %s", b.String(), question),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	logger.Info("Answer generated",
		zap.Int("passages", len(passages)),
		zap.Int("answer_length", len(resp.Content)),
	)
	return strings.TrimSpace(resp.Content), nil
}
