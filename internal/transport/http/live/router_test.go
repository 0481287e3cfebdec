package livehttp

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradelab/internal/backtest"
	"tradelab/internal/ledger"
	"tradelab/internal/market"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type idleFeed struct{ ch chan market.FeedEvent }

func (f idleFeed) Subscribe(ctx context.Context, symbols []string, interval string, opts market.SubscribeOptions) (<-chan market.FeedEvent, error) {
	return f.ch, nil
}

type flatLoader struct{}

func (flatLoader) Load(ctx context.Context, symbol, interval string, start, end int64) (market.Series, error) {
	out := make(market.Series, 50)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
	}
	return out, nil
}

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, err := backtest.NewLiveService(backtest.LiveConfig{Interval: "1h", HistoryBars: 20, Ledger: ledger.Config{InitialCapital: 1000}},
		idleFeed{ch: make(chan market.FeedEvent)}, flatLoader{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	r := NewRouter(svc)
	engine := gin.New()
	r.Register(engine.Group("/api/live"))
	engine.GET("/sse", r.HandleSSE)
	return engine
}

func call(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestLiveEndpointsWithoutSession(t *testing.T) {
	engine := newEngine(t)
	for _, path := range []string{"/api/live/status", "/api/live/metrics", "/api/live/orders", "/sse"} {
		assert.Equal(t, http.StatusNotFound, call(engine, http.MethodGet, path, "").Code, path)
	}
	assert.Equal(t, http.StatusNotFound, call(engine, http.MethodPost, "/api/live/stop", "").Code)
}

func TestLiveStartStop(t *testing.T) {
	engine := newEngine(t)
	w := call(engine, http.MethodPost, "/api/live/start", `{"symbol":"ethusdt","strategy":"dyngrid"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ETHUSDT", gjson.Get(w.Body.String(), "data.symbol").String())
	assert.True(t, gjson.Get(w.Body.String(), "data.running").Bool())

	w = call(engine, http.MethodGet, "/api/live/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "data.metrics.num_trades").Int())

	w = call(engine, http.MethodPost, "/api/live/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "data.running").Bool())

	w = call(engine, http.MethodPost, "/api/live/start", `{"symbol":"ethusdt","strategy":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSSEStreamsHistoryFirst(t *testing.T) {
	engine := newEngine(t)
	require.Equal(t, http.StatusOK, call(engine, http.MethodPost, "/api/live/start", `{"symbol":"btcusdt"}`).Code)

	srv := httptest.NewServer(engine)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var payload string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data:") {
			payload = strings.TrimPrefix(line, "data:")
			break
		}
	}
	require.NotEmpty(t, payload)
	assert.Len(t, gjson.Get(payload, "historical").Array(), 20)
}
