package health

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource is a RecordSource backed by a YAML catalogue on disk. It is the
// standalone deployment's stand-in for a device health store.
type FileSource struct {
	path string
}

// NewFileSource creates a source reading from the given YAML file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type fileCatalogue struct {
	Records []fileRecord `yaml:"records"`
}

type fileRecord struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
	Title    string `yaml:"title"`
	Summary  string `yaml:"summary"`
	Legacy   bool   `yaml:"legacy,omitempty"`
}

// Fetch loads the catalogue and applies the category filter: a nil filter
// returns everything, an empty one matches nothing. Legacy records pass any
// filter since their categorization predates structured extraction. A
// missing file is an empty catalogue, not an error.
func (s *FileSource) Fetch(ctx context.Context, categories []Category) ([]RecordSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read record catalogue: %w", err)
	}

	var cat fileCatalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse record catalogue: %w", err)
	}

	var wanted map[Category]bool
	if categories != nil {
		wanted = make(map[Category]bool, len(categories))
		for _, c := range categories {
			wanted[c] = true
		}
	}

	var out []RecordSummary
	for _, r := range cat.Records {
		if wanted != nil && !r.Legacy && !wanted[Category(r.Category)] {
			continue
		}
		out = append(out, RecordSummary{
			ID:       r.ID,
			Category: Category(r.Category),
			Title:    r.Title,
			Summary:  r.Summary,
			Legacy:   r.Legacy,
		})
	}
	return out, nil
}
