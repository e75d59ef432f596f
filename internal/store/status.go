package store

import "github.com/hyperjump/mistri/internal/models"

// Describe summarizes the store under root. s may be nil when loading failed with err.
func Describe(root string, s *Store, err error) models.StoreStatus {
	st := models.StoreStatus{StorePath: root}
	if n, duErr := DiskUsage(root); duErr == nil {
		st.DiskUsageBytes = n
	}
	if err != nil || s == nil {
		if err != nil {
			st.Error = err.Error()
		}
		return st
	}
	m := s.Manifest
	st.Loaded = true
	st.BuildID = m.BuildID
	if !m.CreatedAt.IsZero() {
		created := m.CreatedAt
		st.CreatedAt = &created
	}
	st.Model = m.Model
	st.Dimensions = s.Dimensions()
	st.Records = s.Size()
	st.Categories = s.CategoryCounts()
	return st
}
