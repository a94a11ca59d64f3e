package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCatalogue(t *testing.T, body string) *FileSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return NewFileSource(path)
}

func TestFileSourceFilter(t *testing.T) {
	src := writeCatalogue(t, `
records:
  - id: r1
    category: vitals
    title: Blood pressure
    summary: 120/80
  - id: r2
    category: medications
    title: Metformin
    summary: 500mg twice daily
  - id: r3
    category: documents
    title: Old scan
    summary: free-text summary
    legacy: true
`)

	all, err := src.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("nil filter returned %d records, want all 3", len(all))
	}

	vitals, err := src.Fetch(context.Background(), []Category{CategoryVitals})
	if err != nil {
		t.Fatal(err)
	}
	// The legacy record passes any filter.
	if len(vitals) != 2 {
		t.Fatalf("vitals filter returned %d records, want vitals + legacy", len(vitals))
	}

	none, err := src.Fetch(context.Background(), []Category{})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 1 || !none[0].Legacy {
		t.Errorf("empty filter should match only legacy records, got %v", none)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.yaml"))
	records, err := src.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("missing catalogue must not error: %v", err)
	}
	if records != nil {
		t.Errorf("records = %v, want none", records)
	}
}

func TestFileSourceMalformed(t *testing.T) {
	src := writeCatalogue(t, "records: [not: valid")
	if _, err := src.Fetch(context.Background(), nil); err == nil {
		t.Error("malformed catalogue must error")
	}
}
