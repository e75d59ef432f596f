// Package diagnosis turns ranked matches into a repair diagnosis.
package diagnosis

import (
	"errors"
	"fmt"

	"github.com/hyperjump/mistri/internal/models"
)

// ErrNoMatch is returned when there is nothing confident enough to diagnose.
var ErrNoMatch = errors.New("no matching error codes found")

// NoMatchMessage is the user-facing text for ErrNoMatch.
const NoMatchMessage = "No matching error codes found. Please provide more details."

// SafetyWarning is attached to every diagnosis.
const SafetyWarning = "⚠️ SAFETY FIRST: Unplug the machine from power! " +
	"Wait 2-3 minutes for capacitors to discharge before opening."

// Codes are case-sensitive: "DE" (drain) and "dE" (door) are different faults.
var repairSteps = map[string][]string{
	"IE": {
		"Check the water inlet valve for blockages",
		"Inspect the inlet hose for kinks or damage",
		"Verify water pressure is adequate (min 20 PSI)",
		"Test the water level sensor",
	},
	"UE": {
		"Redistribute the load evenly in the drum",
		"Check if the machine is level (use a spirit level)",
		"Reduce the load size if overloaded",
		"Inspect shock absorbers for wear",
	},
	"DE": {
		"Check the drain hose for clogs",
		"Inspect the drain pump filter (usually at bottom front)",
		"Test the drain pump motor",
		"Verify drain hose is not kinked",
	},
	"FE": {
		"Turn off water supply immediately",
		"Check water inlet valve for failure (stuck open)",
		"Inspect pressure sensor connection",
		"Test the main control board",
	},
	"dE": {
		"Ensure door is fully closed and latched",
		"Check door seal for obstructions",
		"Inspect door lock assembly",
		"Test door switch continuity with multimeter",
	},
}

var genericSteps = []string{
	"Refer to the error description above",
	"Check all electrical connections",
	"Inspect for visible damage or wear",
	"Consider calling a professional if unsure",
}

// Steps returns the repair steps for code, or generic steps for unknown codes.
// The returned slice is a copy.
func Steps(code string) []string {
	steps, ok := repairSteps[code]
	if !ok {
		steps = genericSteps
	}
	return append([]string(nil), steps...)
}

// Format builds a diagnosis from matches ordered best first. The top match drives
// the diagnosis text, the steps and the confidence score.
func Format(matches []models.Match, category models.Category) (*models.DiagnosisResponse, error) {
	if len(matches) == 0 {
		return nil, ErrNoMatch
	}
	top := matches[0]
	matched := make([]models.MatchedError, len(matches))
	for i, m := range matches {
		matched[i] = models.MatchedError{Code: m.Code, Name: m.Name, Similarity: m.SimilarityScore}
	}
	return &models.DiagnosisResponse{
		Diagnosis:       fmt.Sprintf("The %s error means: %s. %s", top.Code, top.Name, top.Description),
		SafetyWarning:   SafetyWarning,
		Steps:           Steps(top.Code),
		MatchedErrors:   matched,
		ConfidenceScore: top.SimilarityScore,
		Category:        category,
	}, nil
}
