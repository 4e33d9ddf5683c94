package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/docwell-ai/ragcore/internal/store"
)

// minTokenLength filters noise words from keyword scoring. Tokens of three
// or more characters carry enough signal to count.
const minTokenLength = 3

// retrieveKeyword runs keyword mode: score each visible document by how many
// distinct query tokens appear in its content, add a small recency bonus,
// and return the top-K whole documents. No embeddings are involved, so this
// strategy survives any encoder failure.
func (m *Manager) retrieveKeyword(ctx context.Context, sessionID, query string, opts Options) (*Result, error) {
	result := &Result{Mode: ModeKeyword, Query: query}

	docs, err := m.visibleDocuments(ctx, sessionID, opts)
	if err != nil {
		return nil, err
	}

	qTokens := queryTokens(query)
	if len(qTokens) == 0 {
		return result, nil
	}

	var scored []ScoredDocument
	for _, d := range docs {
		score := keywordScore(qTokens, d)
		if score <= 0 {
			continue
		}
		scored = append(scored, ScoredDocument{Document: d, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Document.ID < scored[j].Document.ID
	})
	if len(scored) > opts.TopK {
		scored = scored[:opts.TopK]
	}
	result.Documents = scored
	return result, nil
}

// queryTokens extracts the distinct lowercase tokens of length at least
// minTokenLength from the query.
func queryTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var tokens []string
	for _, f := range fields {
		if len(f) < minTokenLength || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

// keywordScore counts distinct query tokens present in the document content
// and adds a recency bonus in (0, 1): more recently accessed documents rank
// higher among equal token counts, and the bonus decays monotonically with
// age so it can never outweigh a token match.
func keywordScore(tokens []string, d store.Document) float64 {
	content := strings.ToLower(d.Content)
	matches := 0
	for _, t := range tokens {
		if strings.Contains(content, t) {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}
	ageDays := time.Since(d.LastAccessedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return float64(matches) + 0.5/(1+ageDays)
}
