package backtesthttp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tradelab/internal/chart"
	"tradelab/internal/results"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleList(c *gin.Context) {
	q := results.ListQuery{
		Page:            queryInt(c, "page", 1),
		PerPage:         queryInt(c, "per_page", 10),
		IncludeArchived: strings.EqualFold(c.Query("include_archived"), "true"),
		SortBy:          c.DefaultQuery("sort_by", results.SortTimestamp),
		SortOrder:       c.DefaultQuery("sort_order", "desc"),
	}.Normalize()
	recs, total, err := s.results.List(c.Request.Context(), q)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"results": recs,
		"pagination": gin.H{
			"page":        q.Page,
			"per_page":    q.PerPage,
			"total_count": total,
			"total_pages": q.TotalPages(total),
		},
	})
}

func (s *Server) recordID(c *gin.Context) (int64, bool) {
	id, err := results.ParseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return 0, false
	}
	return id, true
}

func (s *Server) handleGet(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	rec, err := s.results.Get(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return
	}
	success(c, http.StatusOK, rec)
}

func (s *Server) handleUpdate(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	var req struct {
		Name  *string `json:"name"`
		Notes *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if req.Name == nil && req.Notes == nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("name 或 notes 至少提供一个"))
		return
	}
	rec, err := s.results.Update(c.Request.Context(), id, req.Name, req.Notes)
	if err != nil {
		storeError(c, err)
		return
	}
	success(c, http.StatusOK, rec)
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	if err := s.results.Delete(c.Request.Context(), id); err != nil {
		storeError(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"deleted": 1})
}

func (s *Server) handleDeleteAll(c *gin.Context) {
	n, err := s.results.DeleteAll(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	success(c, http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) handleArchive(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	if err := s.results.Archive(c.Request.Context(), id); err != nil {
		storeError(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"timestamp": id, "archived": true})
}

func (s *Server) handleUnarchive(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	if err := s.results.Unarchive(c.Request.Context(), id); err != nil {
		storeError(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"timestamp": id, "archived": false})
}

// handleChart 渲染 K 线 + 买卖点 + 资金曲线；format=png 时走 headless Chrome。
func (s *Server) handleChart(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	rec, err := s.results.Get(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return
	}
	title := strings.TrimSpace(fmt.Sprintf("%s %v %s", rec.Symbol(), rec.Params["interval"], rec.Name))
	in := chart.Input{Title: title, Candles: rec.Candles, Orders: rec.Orders, Equity: rec.EquityCurve}
	if len(in.Candles) == 0 {
		fail(c, http.StatusUnprocessableEntity, fmt.Errorf("结果 %d 未保存 K 线", id))
		return
	}
	if strings.EqualFold(c.Query("format"), "png") {
		png, err := chart.RenderPNG(c.Request.Context(), in)
		if err != nil {
			fail(c, http.StatusNotImplemented, err)
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	writeHTML(c, func(w io.Writer) error { return chart.RenderHTML(w, in) })
}

// writeHTML 先渲染到缓冲区，渲染失败时还能返回 JSON 错误。
func writeHTML(c *gin.Context, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
