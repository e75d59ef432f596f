package models

import "fmt"

// SourceRecord is one raw row of the error-code source before ingestion.
type SourceRecord struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SearchText renders the exact string that gets embedded for a source row.
// The template is fixed: "Error {code}: {name} - {description}".
func (s SourceRecord) SearchText() string {
	return fmt.Sprintf("Error %s: %s - %s", s.Code, s.Name, s.Description)
}

// Record is one knowledge-base entry. ID is dense 0..N-1 within a single build
// and indexes both the metadata table and the vector index rows.
type Record struct {
	ID          int         `json:"id"`
	Category    Category    `json:"category"`
	ContentType ContentType `json:"type"`
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SearchText  string      `json:"text"`
}

// Match is a retrieved record annotated with its similarity score.
type Match struct {
	ID              int     `json:"id"`
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	SimilarityScore float64 `json:"similarity_score"`
}
