package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tradelab/internal/ledger"
	"tradelab/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOutAndDrop(t *testing.T) {
	h := NewHub(1)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()
	assert.Equal(t, 2, h.Subscribers())

	bars := rising(2, 10)
	h.PublishBar(bars[0])
	h.PublishBar(bars[1])
	assert.Equal(t, int64(2), h.Dropped())

	got := <-a
	require.NotNil(t, got.Bar)
	assert.InDelta(t, 10, got.Bar.Close, 1e-9)
	got = <-b
	assert.InDelta(t, 10, got.Bar.Close, 1e-9)

	cancelA()
	cancelA()
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHubLateSubscriberGetsHistory(t *testing.T) {
	h := NewHub(4)
	h.PublishHistorical(rising(3, 10))
	ch, cancel := h.Subscribe()
	defer cancel()
	env := <-ch
	assert.Len(t, env.Historical, 3)

	h.Reset()
	_, ok := <-ch
	assert.False(t, ok)
	ch2, cancel2 := h.Subscribe()
	defer cancel2()
	select {
	case <-ch2:
		t.Fatal("history should be cleared")
	default:
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	bar := rising(1, 10)[0]
	raw, err := json.Marshal(Envelope{Bar: &bar})
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Len(t, m, 1)
	assert.Contains(t, m, "bar")

	ev := ledger.Event{Type: ledger.EventOrder, Order: &ledger.ExecutedOrder{Side: ledger.SideBuy}}
	raw, err = json.Marshal(Envelope{Strategy: &ev})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"strategy":{"type":"order"`)

	raw, err = json.Marshal(Envelope{Historical: market.Series{bar}})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"historical":[`)
}

type stubLoader struct {
	calls atomic.Int32
	bars  market.Series
	err   error
}

func (s *stubLoader) Load(ctx context.Context, symbol, interval string, start, end int64) (market.Series, error) {
	s.calls.Add(1)
	return s.bars, s.err
}

func TestFetchServiceJobs(t *testing.T) {
	loader := &stubLoader{bars: rising(5, 10)}
	svc, err := NewFetchService(loader, 1)
	require.NoError(t, err)

	_, err = svc.Submit(FetchParams{Symbol: "", Interval: "1h"})
	assert.Error(t, err)
	_, err = svc.Submit(FetchParams{Symbol: "BTCUSDT", Interval: "7m"})
	assert.Error(t, err)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	job, err := svc.Submit(FetchParams{Symbol: "btcusdt", Interval: "1H", Start: start, End: start + 9*3600_000})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", job.Params.Symbol)
	assert.Equal(t, "1h", job.Params.Interval)
	assert.Equal(t, int64(10), job.Expected)

	require.Eventually(t, func() bool {
		j, ok := svc.Job(job.ID)
		return ok && j.Status == JobStatusDone
	}, 2*time.Second, 5*time.Millisecond)
	j, _ := svc.Job(job.ID)
	assert.Equal(t, 5, j.Bars)
	assert.Contains(t, j.Message, "5/10")
	assert.NotNil(t, j.FinishedAt)
	assert.Len(t, svc.Jobs(), 1)
}

func TestFetchServiceFailure(t *testing.T) {
	svc, err := NewFetchService(&stubLoader{err: errors.New("rate limited")}, 0)
	require.NoError(t, err)
	job, err := svc.Submit(FetchParams{Symbol: "ETHUSDT", Interval: "15m", Start: 0, End: 3600_000})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, _ := svc.Job(job.ID)
		return j.Status == JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)
	j, _ := svc.Job(job.ID)
	assert.Equal(t, "rate limited", j.Message)
	_, ok := svc.Job("missing")
	assert.False(t, ok)
}
