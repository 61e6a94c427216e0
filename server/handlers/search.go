package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/search"
	"github.com/wordflowlab/devtrail/pkg/semantic"
	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/server/observability"
)

// 搜索模式, 同时用作指标标签
const (
	ModeLexical  = "lexical"
	ModeSemantic = "semantic"
	ModeHybrid   = "hybrid"
)

// SearchHandler 关键词/语义/混合搜索
type SearchHandler struct {
	svc     *search.Service
	metrics Recorder
}

// NewSearchHandler 创建 SearchHandler
func NewSearchHandler(svc *search.Service, metrics Recorder) *SearchHandler {
	return &SearchHandler{svc: svc, metrics: recorderOrNop(metrics)}
}

type lexicalQuery struct {
	Q          string `form:"q"`
	ObjectType string `form:"objectType"`
	Repository string `form:"repository"`
	Limit      int    `form:"limit" binding:"min=0"`
	Offset     int    `form:"offset" binding:"min=0"`
}

// Lexical GET /api/search
func (h *SearchHandler) Lexical(c *gin.Context) {
	var req lexicalQuery
	if !bindQuery(c, &req) {
		return
	}
	q, ok := requireQuery(c, req.Q)
	if !ok {
		return
	}
	objectType, ok := parseObjectType(c, req.ObjectType)
	if !ok {
		return
	}

	start := time.Now()
	page, err := h.svc.Lexical(c.Request.Context(), q, store.LexicalFilter{
		ObjectType: objectType,
		Repository: req.Repository,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		h.metrics.SearchRequest(ModeLexical, observability.ResultError, time.Since(start))
		respondInternal(c, err)
		return
	}
	h.metrics.SearchRequest(ModeLexical, observability.ResultOK, time.Since(start))

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"query":      q,
		"data":       page.Results,
		"pagination": page.Pagination,
	})
}

type semanticQuery struct {
	Q          string  `form:"q"`
	ObjectType string  `form:"objectType"`
	Repository string  `form:"repository"`
	Limit      int     `form:"limit" binding:"min=0"`
	Threshold  float64 `form:"threshold" binding:"min=0,max=1"`
}

// Semantic GET /api/search/semantic
func (h *SearchHandler) Semantic(c *gin.Context) {
	var req semanticQuery
	if !bindQuery(c, &req) {
		return
	}
	q, ok := requireQuery(c, req.Q)
	if !ok {
		return
	}
	objectType, ok := parseObjectType(c, req.ObjectType)
	if !ok {
		return
	}

	start := time.Now()
	results, err := h.svc.Semantic(c.Request.Context(), q, semantic.Options{
		Limit:          req.Limit,
		ObjectType:     objectType,
		Repository:     req.Repository,
		ScoreThreshold: req.Threshold,
	})
	if err != nil {
		if semantic.IsDegraded(err) {
			h.metrics.SearchRequest(ModeSemantic, observability.ResultUnavailable, time.Since(start))
			logging.Warn(c.Request.Context(), "search.semantic.unavailable", map[string]interface{}{
				"error": err.Error(),
			})
			respondError(c, http.StatusServiceUnavailable, CodeEmbeddingUnavailable, err.Error())
			return
		}
		h.metrics.SearchRequest(ModeSemantic, observability.ResultError, time.Since(start))
		respondInternal(c, err)
		return
	}
	h.metrics.SearchRequest(ModeSemantic, observability.ResultOK, time.Since(start))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"query":   q,
		"data":    results,
	})
}

type hybridQuery struct {
	Q          string  `form:"q"`
	ObjectType string  `form:"objectType"`
	Repository string  `form:"repository"`
	Limit      int     `form:"limit" binding:"min=0"`
	Offset     int     `form:"offset" binding:"min=0"`
	MinSources int     `form:"minSources" binding:"min=0,max=2"`
	Threshold  float64 `form:"threshold" binding:"min=0,max=1"`
	RRFK       int     `form:"rrfK" binding:"min=0"`
	Stats      bool    `form:"stats"`
}

// Hybrid GET /api/search/hybrid
func (h *SearchHandler) Hybrid(c *gin.Context) {
	var req hybridQuery
	if !bindQuery(c, &req) {
		return
	}
	q, ok := requireQuery(c, req.Q)
	if !ok {
		return
	}
	objectType, ok := parseObjectType(c, req.ObjectType)
	if !ok {
		return
	}

	start := time.Now()
	page, err := h.svc.Hybrid(c.Request.Context(), q, search.HybridOptions{
		ObjectType:        objectType,
		Repository:        req.Repository,
		Limit:             req.Limit,
		Offset:            req.Offset,
		RRFK:              req.RRFK,
		MinSources:        req.MinSources,
		SemanticThreshold: req.Threshold,
		IncludeStats:      req.Stats,
	})
	if err != nil {
		if errors.Is(err, search.ErrDegraded) {
			h.metrics.SearchRequest(ModeHybrid, observability.ResultDegraded, time.Since(start))
			respondError(c, http.StatusServiceUnavailable, CodeSearchDegraded, err.Error())
			return
		}
		h.metrics.SearchRequest(ModeHybrid, observability.ResultError, time.Since(start))
		respondInternal(c, err)
		return
	}
	h.metrics.SearchRequest(ModeHybrid, observability.ResultOK, time.Since(start))

	resp := gin.H{
		"success":    true,
		"query":      q,
		"data":       page.Results,
		"pagination": page.Pagination,
	}
	if req.Stats && page.Stats != nil {
		resp["stats"] = page.Stats
	}
	c.JSON(http.StatusOK, resp)
}
