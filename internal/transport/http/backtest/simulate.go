package backtesthttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tradelab/internal/backtest"
	"tradelab/internal/market"
	"tradelab/internal/pkg/convert"
	"tradelab/internal/results"
	"tradelab/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// simulateBody 是 /api/simulate 的请求体。未识别的顶层键与 box_params 都并入策略参数，
// 兼容扁平写法（如直接传 rsi_length）。
type simulateBody struct {
	req   backtest.SimulateRequest
	name  string
	notes string
	save  bool
}

var topLevelKeys = map[string]bool{
	"symbol": true, "interval": true, "strategy": true, "strategy_type": true, "preset": true,
	"params": true, "box_params": true, "start": true, "end": true, "bars": true,
	"initial_capital": true, "commission": true, "slippage": true, "name": true, "notes": true, "save": true,
}

func parseSimulateBody(raw map[string]any) (simulateBody, error) {
	body := simulateBody{save: true}
	r := &body.req
	r.Symbol = str(raw["symbol"])
	r.Interval = str(raw["interval"])
	if r.Interval == "" {
		r.Interval = "1h"
	}
	r.Strategy = str(raw["strategy"])
	if r.Strategy == "" {
		r.Strategy = str(raw["strategy_type"])
	}
	r.Preset = str(raw["preset"])
	body.name = str(raw["name"])
	body.notes = str(raw["notes"])
	if v, ok := raw["save"].(bool); ok {
		body.save = v
	}
	var err error
	if r.Start, err = num[int64](raw["start"]); err != nil {
		return body, fmt.Errorf("start: %w", err)
	}
	if r.End, err = num[int64](raw["end"]); err != nil {
		return body, fmt.Errorf("end: %w", err)
	}
	if r.Bars, err = num[int](raw["bars"]); err != nil {
		return body, fmt.Errorf("bars: %w", err)
	}
	if r.InitialCapital, err = num[float64](raw["initial_capital"]); err != nil {
		return body, fmt.Errorf("initial_capital: %w", err)
	}
	for key, dst := range map[string]**float64{"commission": &r.Commission, "slippage": &r.Slippage} {
		if _, ok := raw[key]; !ok {
			continue
		}
		v, err := num[float64](raw[key])
		if err != nil {
			return body, fmt.Errorf("%s: %w", key, err)
		}
		*dst = &v
	}

	params := map[string]any{}
	for _, nested := range []string{"box_params", "params"} {
		if m, ok := raw[nested].(map[string]any); ok {
			for k, v := range m {
				params[k] = v
			}
		}
	}
	for k, v := range raw {
		if !topLevelKeys[k] {
			params[k] = v
		}
	}
	r.Params = params
	return body, nil
}

func (s *Server) handleSimulate(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	s.simulate(c, raw)
}

// handleInsideBar 固定使用 inside bar 策略，其余同 /api/simulate。
func (s *Server) handleInsideBar(c *gin.Context) {
	raw := map[string]any{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&raw); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}
	raw["strategy"] = string(strategy.KindInsideBar)
	delete(raw, "strategy_type")
	delete(raw, "preset")
	if str(raw["symbol"]) == "" {
		raw["symbol"] = "BTCUSDT"
	}
	s.simulate(c, raw)
}

func (s *Server) simulate(c *gin.Context, raw map[string]any) {
	if s.sim == nil {
		fail(c, http.StatusServiceUnavailable, fmt.Errorf("回测服务未启用"))
		return
	}
	body, err := parseSimulateBody(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	s.applyRiskDefault(&body.req)
	res, err := s.sim.Simulate(c.Request.Context(), body.req)
	if err != nil {
		switch {
		case !market.IsInputDataError(err) && errors.Is(err, context.Canceled):
			// 请求被取消时 runner 也会带回部分结果，一律按超时处理。
			fail(c, http.StatusRequestTimeout, err)
		case res != nil:
			// 运行中途失败：不落库，把已记录的订单一并返回。
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error(), "orders": res.Orders})
		default:
			fail(c, http.StatusBadRequest, err)
		}
		return
	}

	data := gin.H{
		"final_value":    res.FinalValue,
		"orders":         res.Orders,
		"trades":         res.Trades,
		"metrics":        res.Metrics,
		"equity_metrics": res.EquityMetrics,
		"params":         res.Params,
	}
	if body.save {
		rec, err := s.results.Save(c.Request.Context(), s.toRecord(res, body))
		if err != nil {
			fail(c, http.StatusInternalServerError, fmt.Errorf("保存结果失败: %w", err))
			return
		}
		data["timestamp"] = rec.Timestamp
	}
	success(c, http.StatusOK, data)
}

func (s *Server) applyRiskDefault(req *backtest.SimulateRequest) {
	if s.riskPercent <= 0 || req.Preset != "" {
		return
	}
	if _, ok := req.Params["risk_percent"]; ok {
		return
	}
	if _, ok := req.Params["riskPercent"]; ok {
		return
	}
	kind, err := strategy.ParseKind(req.Strategy)
	if err != nil {
		return
	}
	defaults, err := strategy.DefaultParams(kind)
	if err != nil {
		return
	}
	raw, err := json.Marshal(defaults)
	if err != nil || !gjson.GetBytes(raw, "risk_percent").Exists() {
		return
	}
	req.Params["risk_percent"] = s.riskPercent
}

func (s *Server) toRecord(res *backtest.Result, body simulateBody) results.Record {
	params := map[string]any{}
	for k, v := range res.Params {
		params[k] = v
	}
	params["symbol"] = res.Symbol
	params["interval"] = res.Interval
	params["initial_capital"] = res.InitialCapital
	if body.req.Preset != "" {
		params["preset"] = body.req.Preset
	}
	rec := results.Record{
		Name:        body.name,
		Notes:       body.notes,
		Params:      params,
		Orders:      res.Orders,
		FinalValue:  res.FinalValue,
		Metrics:     res.Metrics,
		Equity:      results.Equity{Initial: res.InitialCapital, Final: res.FinalValue},
		EquityCurve: res.Equity,
	}
	if s.storeCandles {
		rec.Candles = res.Candles
	}
	return rec
}

// handleStrategies 列出策略默认参数与已加载的预设。
func (s *Server) handleStrategies(c *gin.Context) {
	kinds := strategy.Kinds()
	list := make([]gin.H, 0, len(kinds))
	for _, k := range kinds {
		defaults, err := strategy.DefaultParams(k)
		if err != nil {
			fail(c, http.StatusInternalServerError, err)
			return
		}
		list = append(list, gin.H{"kind": k, "defaults": defaults, "schema": strategy.ParamsSchema(defaults)})
	}
	var presets []strategy.Preset
	if s.presets != nil {
		presets = s.presets.List()
	}
	success(c, http.StatusOK, gin.H{"strategies": list, "presets": presets})
}

func (s *Server) handleFetch(c *gin.Context) {
	if s.fetch == nil {
		fail(c, http.StatusServiceUnavailable, fmt.Errorf("数据拉取未启用"))
		return
	}
	var req backtest.FetchParams
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	job, err := s.fetch.Submit(req)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	success(c, http.StatusAccepted, job)
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	job, ok := s.fetch.Job(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, fmt.Errorf("job not found"))
		return
	}
	success(c, http.StatusOK, job)
}

func (s *Server) handleJobs(c *gin.Context) {
	success(c, http.StatusOK, s.fetch.Jobs())
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// num 接受 JSON 数字或数字字符串，缺省为零值。
func num[T int | int64 | float64](v any) (T, error) {
	f, _, err := convert.Float(v)
	if err != nil {
		return 0, err
	}
	return T(f), nil
}
