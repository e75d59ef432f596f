package models

// MatchedError is the compact form of a match shown in a diagnosis.
type MatchedError struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// DiagnosisResponse is the structured answer to a fault query.
type DiagnosisResponse struct {
	Diagnosis       string         `json:"diagnosis"`
	SafetyWarning   string         `json:"safety_warning"`
	Steps           []string       `json:"steps"`
	MatchedErrors   []MatchedError `json:"matched_errors"`
	ConfidenceScore float64        `json:"confidence_score"`
	Category        Category       `json:"category,omitempty"`
	RequestID       string         `json:"request_id,omitempty"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
