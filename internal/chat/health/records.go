// Package health defines the record catalogue interface consumed by the
// chat pipeline and the context builder that turns selected records into a
// bounded text blob for the AI backends.
package health

import (
	"context"
	"time"
)

// Category identifies a class of health records a conversation can select.
type Category string

const (
	CategoryPersonalInfo  Category = "personal_info"
	CategoryLabResults    Category = "lab_results"
	CategoryMedications   Category = "medications"
	CategoryConditions    Category = "conditions"
	CategoryImmunizations Category = "immunizations"
	CategoryAllergies     Category = "allergies"
	CategoryProcedures    Category = "procedures"
	CategoryVitals        Category = "vitals"
	CategoryDocuments     Category = "documents"
)

// RecordSummary is a rendered view of one health record, produced by the
// external record catalogue. Legacy records predate structured extraction
// and carry free text only.
type RecordSummary struct {
	ID        string
	Category  Category
	Title     string
	Summary   string
	Legacy    bool
	CreatedAt time.Time
}

// RecordSource is the external catalogue of local health records.
//
// Fetch filters by category: a nil slice means "no filter" (return
// everything, legacy behavior), an empty non-nil slice means "filter
// matched nothing" and returns no records.
type RecordSource interface {
	Fetch(ctx context.Context, categories []Category) ([]RecordSummary, error)
}
