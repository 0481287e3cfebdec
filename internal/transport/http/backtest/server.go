package backtesthttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradelab/internal/backtest"
	"tradelab/internal/logger"
	"tradelab/internal/results"
	"tradelab/internal/strategy"
	livehttp "tradelab/internal/transport/http/live"

	"github.com/gin-gonic/gin"
)

// Server 提供回测结果、模拟与实时会话的 HTTP API。
type Server struct {
	addr         string
	router       *gin.Engine
	sim          *backtest.Simulator
	fetch        *backtest.FetchService
	results      results.Store
	presets      *strategy.PresetRegistry
	live         *livehttp.Router
	// storeCandles 为 false 时保存结果不带 K 线快照。
	storeCandles bool
	riskPercent  float64
}

// Config 描述 HTTP Server 的依赖。Live 为空时不挂载实时接口。
type Config struct {
	Addr         string
	Simulator    *backtest.Simulator
	Fetch        *backtest.FetchService
	Results      results.Store
	Presets      *strategy.PresetRegistry
	Live         *backtest.LiveService
	StoreCandles bool
	// RiskPercent 是请求未给出 risk_percent 时的默认值，仅对支持该参数的策略生效。
	RiskPercent  float64
}

// NewServer 构建 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Results == nil {
		return nil, errors.New("results store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:         cfg.Addr,
		router:       router,
		sim:          cfg.Simulator,
		fetch:        cfg.Fetch,
		results:      cfg.Results,
		presets:      cfg.Presets,
		storeCandles: cfg.StoreCandles,
		riskPercent:  cfg.RiskPercent,
	}
	if cfg.Live != nil {
		s.live = livehttp.NewRouter(cfg.Live)
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api")
	api.GET("/backtests", s.handleList)
	api.DELETE("/backtests", s.handleDeleteAll)
	api.GET("/backtests/:id", s.handleGet)
	api.PATCH("/backtests/:id", s.handleUpdate)
	api.DELETE("/backtests/:id", s.handleDelete)
	api.POST("/backtests/:id/archive", s.handleArchive)
	api.POST("/backtests/:id/unarchive", s.handleUnarchive)
	api.GET("/backtests/:id/chart", s.handleChart)

	api.POST("/simulate", s.handleSimulate)
	api.POST("/backtest/ib_strategy", s.handleInsideBar)
	api.GET("/strategies", s.handleStrategies)

	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch", s.handleJobs)
	api.GET("/fetch/:id", s.handleFetchStatus)

	if s.live != nil {
		s.live.Register(api.Group("/live"))
		s.router.GET("/sse", s.live.HandleSSE)
	}
}

// Handler 返回底层 http.Handler（测试使用）。
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger 记录每个请求的方法、路径、状态与耗时。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("[http] %s %s status=%d ip=%s dur=%s", c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] 监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func success(c *gin.Context, code int, data any) {
	c.JSON(code, gin.H{"status": "success", "data": data})
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"status": "error", "message": err.Error()})
}

// storeError 把存储错误映射为 HTTP 状态码。
func storeError(c *gin.Context, err error) {
	if errors.Is(err, results.ErrNotFound) {
		fail(c, http.StatusNotFound, err)
		return
	}
	fail(c, http.StatusInternalServerError, err)
}
