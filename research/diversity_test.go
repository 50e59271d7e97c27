package research

import "testing"

func TestDiversityValidator_TrivialCases(t *testing.T) {
	v := NewDiversityValidator()

	if !v.Validate(nil) {
		t.Error("empty set should be trivially diverse")
	}
	if !v.Validate([]string{"how do goroutines work"}) {
		t.Error("singleton set should be trivially diverse")
	}
}

func TestDiversityValidator_DetectsNearDuplicates(t *testing.T) {
	v := NewDiversityValidator()

	queries := []string{
		"what are the performance characteristics of Go channels",
		"what are performance characteristics of Go channels",
	}
	if v.Validate(queries) {
		t.Error("near-duplicate paraphrases should not validate as diverse")
	}
}

func TestDiversityValidator_AcceptsDistinctQueries(t *testing.T) {
	v := NewDiversityValidator()

	queries := []string{
		"how does the Go garbage collector work",
		"what is the history of the Eiffel Tower",
		"best recipes for sourdough bread",
	}
	if !v.Validate(queries) {
		t.Error("clearly unrelated queries should validate as diverse")
	}
}

func TestDiversityValidator_DiversifyPreservesFirstQuery(t *testing.T) {
	v := NewDiversityValidator()

	queries := []string{
		"explain Go concurrency patterns",
		"explain Go concurrency patterns in detail",
	}
	out := v.Diversify(queries)

	if out[0] != queries[0] {
		t.Errorf("first query must never be rewritten, got %q", out[0])
	}
	if out[1] == queries[1] {
		t.Error("second query should have been rewritten with a perspective prefix")
	}
	if !v.Validate(out) {
		t.Error("diversify(queries) must itself validate as diverse")
	}
}

func TestDiversityValidator_DiversifyIsIdempotentOnAlreadyDiverseInput(t *testing.T) {
	v := NewDiversityValidator()

	queries := []string{
		"how does TCP congestion control work",
		"what is the Eiffel Tower's history",
	}
	out := v.Diversify(queries)
	for i := range queries {
		if out[i] != queries[i] {
			t.Errorf("already-diverse input should be returned unchanged at index %d", i)
		}
	}
}

func TestDiversityValidator_FallsBackToStrongerPrefix(t *testing.T) {
	v := NewDiversityValidator()

	// Three near-identical queries: the single-perspective-tag rewrite alone
	// may not separate all pairs, forcing the stronger "[Query i - ...]" form.
	queries := []string{
		"tell me about rust",
		"tell me about rust",
		"tell me about rust",
	}
	out := v.Diversify(queries)
	if out[0] != queries[0] {
		t.Error("first query must never be rewritten")
	}
	if !v.Validate(out) {
		t.Error("diversify must converge to a diverse set even for identical inputs")
	}
}
