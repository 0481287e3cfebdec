package livehttp

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"tradelab/internal/backtest"
	"tradelab/internal/logger"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 15 * time.Second

// Router 暴露实时会话的控制接口与 SSE 推送。
type Router struct {
	svc *backtest.LiveService
}

// NewRouter 构造 live HTTP router。
func NewRouter(svc *backtest.LiveService) *Router {
	return &Router{svc: svc}
}

// Register 将 /api/live 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.GET("/metrics", r.handleMetrics)
	group.GET("/orders", r.handleOrders)
}

func (r *Router) handleStart(c *gin.Context) {
	var req backtest.LiveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
	}
	st, err := r.svc.Start(c.Request.Context(), req)
	if err != nil {
		logger.Errorf("[api] live start failed ip=%s symbol=%s err=%v", c.ClientIP(), req.Symbol, err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	logger.Infof("[api] live start ip=%s id=%s symbol=%s strategy=%s", c.ClientIP(), st.ID, st.Symbol, st.Strategy)
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": st})
}

func (r *Router) handleStop(c *gin.Context) {
	st, err := r.svc.Stop()
	if err != nil {
		sessionError(c, err)
		return
	}
	logger.Infof("[api] live stop ip=%s id=%s bars=%d", c.ClientIP(), st.ID, st.Bars)
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": st})
}

func (r *Router) handleStatus(c *gin.Context) {
	sess := r.svc.Current()
	if sess == nil {
		sessionError(c, backtest.ErrNoSession)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": sess.Status()})
}

func (r *Router) handleMetrics(c *gin.Context) {
	m, st, err := r.svc.Metrics()
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"session": st, "metrics": m}})
}

func (r *Router) handleOrders(c *gin.Context) {
	sess := r.svc.Current()
	if sess == nil {
		sessionError(c, backtest.ErrNoSession)
		return
	}
	orders := sess.Orders()
	if limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0")); limit > 0 && len(orders) > limit {
		orders = orders[len(orders)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": orders})
}

// HandleSSE 以 text/event-stream 推送 hub 消息：先历史块，之后是 K 线与策略事件。
func (r *Router) HandleSSE(c *gin.Context) {
	if r.svc.Current() == nil {
		sessionError(c, backtest.ErrNoSession)
		return
	}
	ch, cancel := r.svc.Hub().Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	logger.Infof("[sse] 客户端接入 ip=%s", c.ClientIP())
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case env, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("", env)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
	logger.Infof("[sse] 客户端断开 ip=%s", c.ClientIP())
}

func sessionError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, backtest.ErrNoSession) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}
