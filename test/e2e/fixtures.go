// Package e2e exercises the full pipeline: source file, ingestion, published store,
// and the HTTP API.
package e2e

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/mistri/internal/models"
)

// Dimensions is the mock embedding width used by every fixture.
const Dimensions = 32

// WasherCodes is a small front-loader error-code table. "DE" and "dE" are distinct codes.
var WasherCodes = []models.SourceRecord{
	{Code: "IE", Name: "Inlet Error", Description: "Water is not filling the drum within the expected time"},
	{Code: "UE", Name: "Unbalanced Load", Description: "Laundry is bunched on one side and the drum cannot spin"},
	{Code: "DE", Name: "Drain Error", Description: "Water is not draining from the drum"},
	{Code: "dE", Name: "Door Error", Description: "The door lock switch does not report a closed door"},
	{Code: "FE", Name: "Fill Error", Description: "Too much water detected in the tub"},
	{Code: "LE1", Name: "Motor Lock", Description: "The motor is locked or overloaded"},
}

// WriteCSV writes recs as an error-code CSV under dir and returns its path.
func WriteCSV(dir, name string, recs []models.SourceRecord) (string, error) {
	var b strings.Builder
	b.WriteString("error_code,error_name,description_cause\n")
	for _, r := range recs {
		b.WriteString(r.Code + "," + r.Name + ",\"" + strings.ReplaceAll(r.Description, `"`, `""`) + "\"\n")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
