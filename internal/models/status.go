package models

import "time"

// SearchResponse is the result of a scoped search.
type SearchResponse struct {
	Query     string   `json:"query"`
	Category  Category `json:"category,omitempty"`
	Rule      string   `json:"rule"`
	Matches   []Match  `json:"matches"`
	Count     int      `json:"count"`
	RequestID string   `json:"request_id,omitempty"`
}

// StoreStatus describes the served store.
type StoreStatus struct {
	Loaded         bool             `json:"loaded"`
	Error          string           `json:"error,omitempty"`
	BuildID        string           `json:"build_id,omitempty"`
	CreatedAt      *time.Time       `json:"created_at,omitempty"`
	Model          string           `json:"model,omitempty"`
	Dimensions     int              `json:"dimensions,omitempty"`
	Records        int              `json:"records"`
	Categories     map[Category]int `json:"categories,omitempty"`
	StorePath      string           `json:"store_path"`
	DiskUsageBytes int64            `json:"disk_usage_bytes"`
	TopK           int              `json:"top_k"`
	Threshold      float64          `json:"similarity_threshold"`
}
