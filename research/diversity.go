// Package research implements the deep-research subsystem: diversity
// validation, tool registry/execution, the research orchestrator, the
// adaptive agent coordinator, and the resource monitor.
package research

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	diversityThreshold = 0.8
	maxNgramFeatures   = 500
)

var perspectiveRotation = []string{
	"technical implementation details",
	"recent developments",
	"practical applications",
	"theoretical foundations",
	"performance",
	"security",
	"comparison",
	"future implications",
}

var englishStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "this": {}, "that": {}, "it": {}, "as": {}, "at": {},
	"by": {}, "from": {}, "about": {}, "into": {}, "over": {}, "after": {}, "what": {},
	"which": {}, "who": {}, "how": {}, "do": {}, "does": {}, "can": {}, "will": {}, "i": {},
}

// DiversityValidator detects and repairs near-duplicate concurrent queries
// using a hybrid TF-IDF cosine metric (word 1-2-grams plus character
// 2-4-grams, each capped to 500 features), generalized from the in-tree
// BM25/cosine document retriever to query-vs-query similarity.
type DiversityValidator struct {
	threshold float64
}

// NewDiversityValidator builds C3 with the default 0.8 threshold.
func NewDiversityValidator() *DiversityValidator {
	return &DiversityValidator{threshold: diversityThreshold}
}

// NewDiversityValidatorWithThreshold builds C3 with a caller-supplied
// threshold (falls back to the 0.8 default when non-positive).
func NewDiversityValidatorWithThreshold(threshold float64) *DiversityValidator {
	if threshold <= 0 {
		threshold = diversityThreshold
	}
	return &DiversityValidator{threshold: threshold}
}

// Validate reports whether every pair of queries is diverse: similarity
// strictly below the threshold. Sets of size 0 or 1 are trivially diverse.
func (v *DiversityValidator) Validate(queries []string) bool {
	if len(queries) <= 1 {
		return true
	}

	wordVecs := make([]map[string]float64, len(queries))
	charVecs := make([]map[string]float64, len(queries))
	wordDF := make(map[string]int)
	charDF := make(map[string]int)

	wordTerms := make([][]string, len(queries))
	charTerms := make([][]string, len(queries))
	for i, q := range queries {
		wordTerms[i] = wordNgrams(q)
		charTerms[i] = charNgrams(q)
		for term := range uniqueSet(wordTerms[i]) {
			wordDF[term]++
		}
		for term := range uniqueSet(charTerms[i]) {
			charDF[term]++
		}
	}

	wordVocab := topFeatures(wordDF, maxNgramFeatures)
	charVocab := topFeatures(charDF, maxNgramFeatures)

	n := float64(len(queries))
	for i := range queries {
		wordVecs[i] = tfidfVector(wordTerms[i], wordVocab, wordDF, n)
		charVecs[i] = tfidfVector(charTerms[i], charVocab, charDF, n)
	}

	for i := 0; i < len(queries); i++ {
		for j := i + 1; j < len(queries); j++ {
			wordSim := cosineSimilarity(wordVecs[i], wordVecs[j])
			charSim := cosineSimilarity(charVecs[i], charVecs[j])
			sim := math.Max(wordSim, charSim)
			if sim >= v.threshold {
				return false
			}
		}
	}
	return true
}

// Diversify rewrites a non-diverse query set into a diverse one. Query 0 is
// never modified. Subsequent queries are prefixed with a distinct
// perspective tag drawn from a fixed rotation; if that is still not enough,
// a stronger "[Query i - perspective]" prefix is applied.
func (v *DiversityValidator) Diversify(queries []string) []string {
	if v.Validate(queries) {
		out := make([]string, len(queries))
		copy(out, queries)
		return out
	}

	rewritten := make([]string, len(queries))
	rewritten[0] = queries[0]
	for i := 1; i < len(queries); i++ {
		perspective := perspectiveRotation[(i-1)%len(perspectiveRotation)]
		rewritten[i] = fmt.Sprintf("%s: %s", perspective, queries[i])
	}

	if v.Validate(rewritten) {
		return rewritten
	}

	for i := 1; i < len(rewritten); i++ {
		perspective := perspectiveRotation[(i-1)%len(perspectiveRotation)]
		rewritten[i] = fmt.Sprintf("[Query %d - %s] %s", i, perspective, queries[i])
	}
	return rewritten
}

func tfidfVector(terms []string, vocab map[string]struct{}, df map[string]int, n float64) map[string]float64 {
	tf := make(map[string]int)
	for _, t := range terms {
		if _, ok := vocab[t]; !ok {
			continue
		}
		tf[t]++
	}
	vec := make(map[string]float64, len(tf))
	for term, count := range tf {
		idf := math.Log(n/float64(df[term])+1) + 1
		vec[term] = float64(count) * idf
	}
	return vec
}

func cosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var dot, normA, normB float64
	for _, v := range a {
		normA += v * v
	}
	for _, v := range b {
		normB += v * v
	}
	for term, v := range small {
		if ov, ok := large[term]; ok {
			dot += v * ov
		}
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topFeatures caps the vocabulary to the cap most document-frequent terms,
// breaking ties lexically for deterministic output.
func topFeatures(df map[string]int, cap int) map[string]struct{} {
	if len(df) <= cap {
		out := make(map[string]struct{}, len(df))
		for term := range df {
			out[term] = struct{}{}
		}
		return out
	}

	type kv struct {
		term string
		freq int
	}
	all := make([]kv, 0, len(df))
	for term, freq := range df {
		all = append(all, kv{term, freq})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].freq != all[j].freq {
			return all[i].freq > all[j].freq
		}
		return all[i].term < all[j].term
	})

	out := make(map[string]struct{}, cap)
	for _, e := range all[:cap] {
		out[e.term] = struct{}{}
	}
	return out
}

func uniqueSet(terms []string) map[string]struct{} {
	m := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		m[t] = struct{}{}
	}
	return m
}

// wordNgrams tokenizes on whitespace/punctuation, removes English
// stopwords, and returns unigrams plus bigrams.
func wordNgrams(s string) []string {
	words := tokenizeWords(s)
	filtered := words[:0:0]
	for _, w := range words {
		if _, stop := englishStopwords[w]; stop {
			continue
		}
		filtered = append(filtered, w)
	}

	grams := make([]string, 0, len(filtered)*2)
	grams = append(grams, filtered...)
	for i := 0; i+1 < len(filtered); i++ {
		grams = append(grams, filtered[i]+" "+filtered[i+1])
	}
	return grams
}

func tokenizeWords(s string) []string {
	s = strings.ToLower(s)
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return words
}

// charNgrams returns character 2-grams through 4-grams over the lowercased,
// whitespace-collapsed string.
func charNgrams(s string) []string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	runes := []rune(s)
	var grams []string
	for _, n := range []int{2, 3, 4} {
		if len(runes) < n {
			continue
		}
		for i := 0; i+n <= len(runes); i++ {
			grams = append(grams, string(runes[i:i+n]))
		}
	}
	return grams
}
