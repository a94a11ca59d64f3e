package health

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeSource returns canned records and records the categories it was asked for.
type fakeSource struct {
	records []RecordSummary
	err     error
	gotCats []Category
	called  bool
}

func (f *fakeSource) Fetch(ctx context.Context, categories []Category) ([]RecordSummary, error) {
	f.called = true
	f.gotCats = categories
	return f.records, f.err
}

func TestBuildRendersSections(t *testing.T) {
	src := &fakeSource{records: []RecordSummary{
		{Category: CategoryPersonalInfo, Title: "Profile", Summary: "Blood type: O+"},
		{Category: CategoryLabResults, Title: "CBC", Summary: "WBC 5.2"},
		{Category: CategoryDocuments, Title: "Visit", Summary: "Annual checkup notes"},
	}}

	builder := NewContextBuilder(src, nil)
	cc := builder.Build(context.Background(), []Category{CategoryLabResults}, 2048)

	if cc.PersonalSummary != "Blood type: O+" {
		t.Errorf("personal summary = %q", cc.PersonalSummary)
	}
	if len(cc.Records) != 1 || cc.Records[0].Title != "CBC" {
		t.Errorf("records = %+v", cc.Records)
	}
	if len(cc.DocumentSummaries) != 1 {
		t.Errorf("document summaries = %v", cc.DocumentSummaries)
	}

	for _, want := range []string{"Personal Information:", "Health Records:", "Document Summaries:", "WBC 5.2"} {
		if !strings.Contains(cc.Text, want) {
			t.Errorf("rendered text missing %q:\n%s", want, cc.Text)
		}
	}
}

func TestBuildPassesCategoryFilterThrough(t *testing.T) {
	src := &fakeSource{}
	builder := NewContextBuilder(src, nil)

	builder.Build(context.Background(), nil, 1024)
	if src.gotCats != nil {
		t.Errorf("nil filter should pass through as nil, got %v", src.gotCats)
	}

	builder.Build(context.Background(), []Category{}, 1024)
	if src.gotCats == nil || len(src.gotCats) != 0 {
		t.Errorf("empty filter should pass through as empty, got %v", src.gotCats)
	}
}

func TestBuildExcludesLegacyWhenStructuredPresent(t *testing.T) {
	src := &fakeSource{records: []RecordSummary{
		{Category: CategoryLabResults, Title: "CBC", Summary: "WBC 5.2"},
		{Category: CategoryLabResults, Title: "Old scan", Summary: "free text", Legacy: true},
	}}

	cc := NewContextBuilder(src, nil).Build(context.Background(), nil, 2048)

	if len(cc.Records) != 1 {
		t.Fatalf("records = %+v, legacy should be dropped when structured records exist", cc.Records)
	}
	if cc.Records[0].Legacy {
		t.Error("kept record should be the structured one")
	}
}

func TestBuildIncludesLegacyWhenNothingStructuredMatched(t *testing.T) {
	src := &fakeSource{records: []RecordSummary{
		{Category: CategoryLabResults, Title: "Old scan", Summary: "free text", Legacy: true},
	}}

	cc := NewContextBuilder(src, nil).Build(context.Background(), nil, 2048)

	if len(cc.Records) != 1 || !cc.Records[0].Legacy {
		t.Fatalf("records = %+v, legacy should be included when nothing structured matched", cc.Records)
	}
}

func TestBuildNeverFailsOnFetchError(t *testing.T) {
	src := &fakeSource{err: errors.New("catalogue offline")}

	cc := NewContextBuilder(src, nil).Build(context.Background(), []Category{CategoryVitals}, 1024)

	if cc == nil {
		t.Fatal("Build must return a context even when fetch fails")
	}
	if cc.Text != "" || len(cc.Records) != 0 {
		t.Errorf("degraded context should be empty, got %+v", cc)
	}
	if cc.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", cc.MaxTokens)
	}
}

func TestBuildCompressesOverBudget(t *testing.T) {
	var records []RecordSummary
	for i := 0; i < 200; i++ {
		records = append(records, RecordSummary{
			Category: CategoryLabResults,
			Title:    "Panel",
			Summary:  strings.Repeat("glucose 99 mg/dL;", 10),
		})
	}
	src := &fakeSource{records: records}

	const budget = 100
	cc := NewContextBuilder(src, nil).Build(context.Background(), nil, budget)

	marker := "[Context truncated to fit 100 token limit]"
	if !strings.Contains(cc.Text, marker) {
		t.Fatalf("compressed text missing truncation marker:\n%s", cc.Text)
	}

	// Estimation is a character heuristic, so allow the marker's own length
	// on top of the budget but nothing more.
	if got := cc.EstimatedTokens(); got > budget+EstimateTokens(marker) {
		t.Errorf("estimated tokens = %d, exceeds budget %d plus marker", got, budget)
	}

	// Truncation backs off to a full line boundary before the marker.
	body := cc.Text[:strings.LastIndex(cc.Text, "\n")]
	if !strings.HasSuffix(body, ";") {
		t.Errorf("truncated body should end at a complete record line, got %q", body[len(body)-20:])
	}
}

func TestBuildSkipsCompressionUnderBudget(t *testing.T) {
	src := &fakeSource{records: []RecordSummary{
		{Category: CategoryLabResults, Title: "CBC", Summary: "WBC 5.2"},
	}}

	cc := NewContextBuilder(src, nil).Build(context.Background(), nil, 4096)

	if strings.Contains(cc.Text, "truncated") {
		t.Errorf("under-budget context must not be compressed:\n%s", cc.Text)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Errorf("EstimateTokens(4 chars) = %d, want 1", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Errorf("EstimateTokens(5 chars) = %d, want 2 (rounds up)", got)
	}
}
