package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// ObjectHandler 规范对象及其事件历史
type ObjectHandler struct {
	reader store.ObjectReader
}

// NewObjectHandler 创建 ObjectHandler
func NewObjectHandler(reader store.ObjectReader) *ObjectHandler {
	return &ObjectHandler{reader: reader}
}

// objectID 读取并校验 id 路径参数, 失败时写入 400。
// 对象 ID 含 '/', 客户端以 %2F 转义, 路由按原始路径匹配。
func objectID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, CodeMissingParameter, "object id is required")
		return "", false
	}
	_, _, objectType, _, err := types.ParseObjectID(id)
	if err == nil && !objectType.Valid() {
		err = errors.New("unknown object type " + string(objectType))
	}
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidParameter, err.Error())
		return "", false
	}
	return id, true
}

// Get GET /api/objects/:id
func (h *ObjectHandler) Get(c *gin.Context) {
	id, ok := objectID(c)
	if !ok {
		return
	}

	obj, err := h.reader.GetCanonicalObject(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "object not found: "+id)
			return
		}
		respondInternal(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    obj,
	})
}

type historyQuery struct {
	Limit int `form:"limit" binding:"min=0"`
}

// History GET /api/objects/:id/history
func (h *ObjectHandler) History(c *gin.Context) {
	id, ok := objectID(c)
	if !ok {
		return
	}
	var req historyQuery
	if !bindQuery(c, &req) {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.reader.GetCanonicalObject(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "object not found: "+id)
			return
		}
		respondInternal(c, err)
		return
	}

	records, err := h.reader.GetEventHistory(ctx, id, req.Limit)
	if err != nil {
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
	})
}
