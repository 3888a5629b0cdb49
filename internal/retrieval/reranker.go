package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
)

// Scorer assigns a relevance score to each (query, text) pair. The result
// must have one score per text.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

type Reranker struct {
	scorer Scorer
}

func NewReranker(scorer Scorer) *Reranker {
	if scorer == nil {
		scorer = LexicalScorer{}
	}
	return &Reranker{scorer: scorer}
}

// Rerank returns a new slice sorted by descending score, ties keeping input
// order. The input is never modified. On scorer failure the copy is returned
// in input order together with the error.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []domain.Candidate) ([]domain.Candidate, error) {
	out := domain.CloneCandidates(cands)
	if len(out) == 0 {
		return out, nil
	}
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("rerank").Observe(time.Since(start).Seconds())
	}()

	texts := make([]string, len(out))
	for i, c := range out {
		texts[i] = c.Text
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		return out, fmt.Errorf("failed to score candidates: %w", err)
	}
	if len(scores) != len(out) {
		return out, fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(out))
	}

	for i := range out {
		out[i].Score = scores[i]
		out[i].RankSource = domain.RankReranked
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// LexicalScorer scores by query term coverage with a bonus for adjacent
// query term pairs found in the text. It is deterministic and needs no
// service.
type LexicalScorer struct{}

func (LexicalScorer) Score(_ context.Context, query string, texts []string) ([]float64, error) {
	qTerms := terms(query)
	scores := make([]float64, len(texts))
	if len(qTerms) == 0 {
		return scores, nil
	}

	unique := make(map[string]struct{}, len(qTerms))
	for _, t := range qTerms {
		unique[t] = struct{}{}
	}

	for i, text := range texts {
		dTerms := terms(text)
		present := make(map[string]struct{}, len(dTerms))
		bigrams := make(map[string]struct{}, len(dTerms))
		for j, t := range dTerms {
			present[t] = struct{}{}
			if j > 0 {
				bigrams[dTerms[j-1]+" "+t] = struct{}{}
			}
		}

		hits := 0
		for t := range unique {
			if _, ok := present[t]; ok {
				hits++
			}
		}
		score := float64(hits) / float64(len(unique))

		if len(qTerms) > 1 {
			pairs := 0
			for j := 1; j < len(qTerms); j++ {
				if _, ok := bigrams[qTerms[j-1]+" "+qTerms[j]]; ok {
					pairs++
				}
			}
			score += 0.5 * float64(pairs) / float64(len(qTerms)-1)
		}
		scores[i] = score
	}
	return scores, nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"does": {}, "for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "with": {},
}

func terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
