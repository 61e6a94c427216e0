package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wordflowlab/devtrail/pkg/timeline"
)

// TimelineHandler 活动时间线
type TimelineHandler struct {
	svc *timeline.Service
}

// NewTimelineHandler 创建 TimelineHandler
func NewTimelineHandler(svc *timeline.Service) *TimelineHandler {
	return &TimelineHandler{svc: svc}
}

type timelineQuery struct {
	Repository string `form:"repository"`
	ObjectType string `form:"objectType"`
	Actor      string `form:"actor"`
	Limit      int    `form:"limit" binding:"min=0"`
	Offset     int    `form:"offset" binding:"min=0"`
	Stats      bool   `form:"stats"`
}

// Get GET /api/timeline
func (h *TimelineHandler) Get(c *gin.Context) {
	var req timelineQuery
	if !bindQuery(c, &req) {
		return
	}
	objectType, ok := parseObjectType(c, req.ObjectType)
	if !ok {
		return
	}

	page, err := h.svc.Get(c.Request.Context(), timeline.Filter{
		Repository:   req.Repository,
		ObjectType:   objectType,
		Actor:        req.Actor,
		Limit:        req.Limit,
		Offset:       req.Offset,
		IncludeStats: req.Stats,
	})
	if err != nil {
		respondInternal(c, err)
		return
	}

	resp := gin.H{
		"success":    true,
		"data":       page.Entries,
		"pagination": page.Pagination,
	}
	if page.Stats != nil {
		resp["stats"] = page.Stats
	}
	c.JSON(http.StatusOK, resp)
}
