package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/mistri/internal/diagnosis"
	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/router"
	"github.com/hyperjump/mistri/internal/store"
)

// multipartMemory is how much of a multipart body is held in memory before spilling to disk.
const multipartMemory = 8 << 20

type searchRequest struct {
	Query    string `json:"query"`
	Category string `json:"category,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
	HasImage bool   `json:"has_image,omitempty"`
}

type routeRequest struct {
	Text     string `json:"text"`
	HasImage bool   `json:"has_image"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy", Message: "Mistri API is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.stores.Current(); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, models.HealthResponse{Status: "unhealthy", Message: err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy", Message: "All systems operational"})
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxImageBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	text := strings.TrimSpace(r.FormValue("text"))
	if text == "" {
		s.respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	img, hasImage, err := readImage(r, s.config.Server.MaxImageBytes)
	switch {
	case errors.Is(err, errImageTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		s.respondError(w, http.StatusBadRequest, "invalid image upload")
		return
	}
	if hasImage {
		info, err := inspectImage(img)
		if err != nil {
			// The upload still counts for routing; only the bytes are dropped.
			s.logger.Warn("failed to process image", zap.Error(err))
			img = nil
		} else {
			s.logger.Info("received image", zap.String("format", info.Format), zap.Int("width", info.Width), zap.Int("height", info.Height))
		}
	}

	decision := router.Detect(text, hasImage)
	s.logger.Info("intent detected", zap.String("category", string(decision.Category)), zap.String("rule", string(decision.Rule)))

	q := models.SearchQuery{Query: text, Category: decision.Category, HasImage: hasImage, Image: img}
	if err := q.Validate(s.config.Retrieval.TopK, s.config.Retrieval.MaxTopK); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	matches, err := s.searcher.Search(r.Context(), q)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	resp, err := diagnosis.Format(matches, decision.Category)
	if err != nil {
		s.respondError(w, http.StatusNotFound, diagnosis.NoMatchMessage)
		return
	}
	resp.RequestID = requestIDFrom(r.Context())
	s.logger.Info("diagnosis complete", zap.String("code", matches[0].Code), zap.Float64("confidence", resp.ConfidenceScore))
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q := models.SearchQuery{Query: req.Query, Category: models.Category(req.Category), TopK: req.TopK, HasImage: req.HasImage}
	if err := q.Validate(s.config.Retrieval.TopK, s.config.Retrieval.MaxTopK); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule := "explicit"
	if q.Category == "" {
		decision := router.Detect(q.Query, q.HasImage)
		q.Category = decision.Category
		rule = string(decision.Rule)
	}
	s.logger.Debug("search request", zap.String("query", q.Query), zap.String("category", string(q.Category)), zap.Int("top_k", q.TopK))
	matches, err := s.searcher.Search(r.Context(), q)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{
		Query:     q.Query,
		Category:  q.Category,
		Rule:      rule,
		Matches:   matches,
		Count:     len(matches),
		RequestID: requestIDFrom(r.Context()),
	})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.respondJSON(w, http.StatusOK, router.Detect(req.Text, req.HasImage))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.stores.Current()
	resp := store.Describe(s.stores.Root(), st, err)
	resp.TopK = s.config.Retrieval.TopK
	resp.Threshold = s.config.Retrieval.SimilarityThreshold
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	st, err := s.stores.Reload()
	if err != nil {
		s.logger.Warn("store reload failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "reloaded",
		"build_id": st.Manifest.BuildID,
		"records":  st.Size(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
