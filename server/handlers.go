package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/x-08/agentcloud/ingest"
	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/vectorstores"
)

type createCollectionRequest struct {
	Dimension int `json:"dimension" binding:"required,gt=0"`
}

type promptRequest struct {
	Prompt         string            `json:"prompt" binding:"required"`
	Limit          int               `json:"limit"`
	ScoreThreshold float32           `json:"score_threshold"`
	Filters        map[string]string `json:"filters"`
}

type bulkResult struct {
	IDs    []string       `json:"ids"`
	Errors map[int]string `json:"errors,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	checks := map[string]string{}
	healthy := true

	record := func(name string, err error) {
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	record("vector_store", s.deps.Store.Health(ctx))
	for name, check := range s.deps.Checks {
		record(name, check(ctx))
	}

	body := gin.H{"checks": checks}
	if s.deps.Queue != nil {
		body["queue"] = gin.H{"length": s.deps.Queue.Len(), "capacity": s.deps.Queue.Cap()}
	}
	if s.deps.Stats != nil {
		for k, v := range s.deps.Stats() {
			body[k] = v
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": statusWord(healthy), "data": body})
}

func (s *Server) handleUsage(c *gin.Context) {
	n, err := s.deps.Usage.Count(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, gin.H{"upserts": n})
}

func (s *Server) handleListCollections(c *gin.Context) {
	infos, err := s.deps.Store.ListCollections(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, infos)
}

func (s *Server) handleCreateCollection(c *gin.Context) {
	var req createCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	name := c.Param("name")
	if err := s.deps.Store.CreateCollection(c.Request.Context(), name, req.Dimension); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusCreated, gin.H{"name": name, "dimension": req.Dimension})
}

func (s *Server) handleDeleteCollection(c *gin.Context) {
	if err := s.deps.Store.DeleteCollection(c.Request.Context(), c.Param("name")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleUpsertPoint writes one JSON record for the datasource in the path, the
// same way an inline stream message is written.
func (s *Server) handleUpsertPoint(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.badRequest(c, err)
		return
	}
	point, err := s.deps.Writer.ProcessRecord(c.Request.Context(), c.Param("datasource"), string(body))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusCreated, gin.H{"id": point.ID})
}

func (s *Server) handleBulkUpsert(c *gin.Context) {
	var records []json.RawMessage
	if err := c.ShouldBindJSON(&records); err != nil {
		s.badRequest(c, err)
		return
	}
	if len(records) > maxBulkRecords {
		s.badRequest(c, errors.New("too many records in one request"))
		return
	}

	result := bulkResult{IDs: make([]string, 0, len(records))}
	for i, record := range records {
		point, err := s.deps.Writer.ProcessRecord(c.Request.Context(), c.Param("datasource"), string(record))
		if err != nil {
			if result.Errors == nil {
				result.Errors = make(map[int]string)
			}
			result.Errors[i] = err.Error()
			continue
		}
		result.IDs = append(result.IDs, point.ID)
	}

	status := http.StatusOK
	if len(result.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	s.ok(c, status, result)
}

func (s *Server) handleGetPoint(c *gin.Context) {
	points, err := s.deps.Store.GetPoints(c.Request.Context(), c.Param("name"), []string{c.Param("id")})
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(points) == 0 {
		s.fail(c, vectorstores.ErrPointNotFound)
		return
	}
	s.ok(c, http.StatusOK, points[0])
}

func (s *Server) handleScroll(c *gin.Context) {
	var req vectorstores.ScrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	req.Limit = min(req.Limit, MaxScrollLimit)
	page, err := s.deps.Store.Scroll(c.Request.Context(), c.Param("name"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, page)
}

// handlePrompt embeds the prompt with the datasource's model and returns the
// closest stored chunks.
func (s *Server) handlePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	cfg, err := s.deps.Writer.Lookup(ctx, c.Param("datasource"))
	if err != nil {
		s.fail(c, err)
		return
	}
	embedder, err := s.deps.Embedders.For(ctx, cfg.Model)
	if err != nil {
		s.fail(c, err)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPromptResults
	}
	retriever := vectorstores.NewRetriever(embedder, s.deps.Store, limit)
	docs, err := retriever.GetRelevantDocuments(ctx, cfg.CollectionName(), req.Prompt,
		vectorstores.WithScoreThreshold(req.ScoreThreshold),
		vectorstores.WithFilters(req.Filters),
	)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]gin.H, len(docs))
	for i, doc := range docs {
		out[i] = gin.H{"page_content": doc.PageContent, "metadata": doc.Metadata}
	}
	s.ok(c, http.StatusOK, out)
}

func (s *Server) ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"status": "success", "data": data})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"status": "error", "error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vectorstores.ErrCollectionNotFound), errors.Is(err, vectorstores.ErrPointNotFound):
		return http.StatusNotFound
	case errors.Is(err, vectorstores.ErrCollectionExists):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrMissingTextField), errors.Is(err, schema.ErrDimensionMismatch), errors.Is(err, schema.ErrExtraction):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrLookup):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrTransport), errors.Is(err, schema.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func statusWord(healthy bool) string {
	if healthy {
		return "success"
	}
	return "error"
}
