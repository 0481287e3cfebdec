package backtest

import (
	"context"
	"testing"
	"time"

	"tradelab/internal/ledger"
	"tradelab/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	ch      chan market.FeedEvent
	symbols []string
}

func newFakeFeed() *fakeFeed { return &fakeFeed{ch: make(chan market.FeedEvent, 32)} }

func (f *fakeFeed) Subscribe(ctx context.Context, symbols []string, interval string, opts market.SubscribeOptions) (<-chan market.FeedEvent, error) {
	f.symbols = symbols
	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	return f.ch, nil
}

func (f *fakeFeed) end() { close(f.ch) }

func (f *fakeFeed) push(bar market.Bar, final bool) {
	f.ch <- market.FeedEvent{Symbol: "BTCUSDT", Interval: "1h", Bar: bar, Final: final}
}

func startSession(t *testing.T, strat *scripted) (*Session, *fakeFeed, *Hub, market.Series) {
	t.Helper()
	all := rising(40, 100)
	feed := newFakeFeed()
	hub := NewHub(128)
	sess, err := NewSession(SessionConfig{
		Symbol:      " btcusdt ",
		Interval:    "1h",
		Strategy:    strat,
		Ledger:      ledger.Config{InitialCapital: 1000},
		History:     all[:30],
		HistoryBars: 10,
	}, feed, hub, nil)
	require.NoError(t, err)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(sess.Stop)
	return sess, feed, hub, all[30:]
}

func waitBars(t *testing.T, sess *Session, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return sess.Status().Bars == n }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionTradesOnLiveBarsOnly(t *testing.T) {
	strat := &scripted{buyAt: 0, sellAt: 2, panicAt: -1}
	sess, feed, _, live := startSession(t, strat)
	assert.Equal(t, []string{"BTCUSDT"}, feed.symbols)
	assert.True(t, sess.Running())

	feed.push(live[0], false)
	for _, b := range live[:5] {
		feed.push(b, true)
	}
	waitBars(t, sess, 5)

	// 预热的 30 根不进入策略
	assert.Equal(t, []int{0, 1, 2, 3, 4}, strat.indexes())
	orders := sess.Orders()
	require.Len(t, orders, 2)
	assert.InDelta(t, 131, orders[0].Price, 1e-9)
	assert.InDelta(t, 133, orders[1].Price, 1e-9)
	m := sess.Metrics()
	assert.InDelta(t, 2, m.TotalProfit, 1e-9)
	assert.Equal(t, 2, m.NumTrades)
}

func TestSessionPublishesHistoryThenUpdates(t *testing.T) {
	strat := &scripted{buyAt: 0, sellAt: 1, panicAt: -1}
	_, feed, hub, live := startSession(t, strat)
	ch, cancel := hub.Subscribe()
	defer cancel()

	first := <-ch
	require.Len(t, first.Historical, 10)
	assert.Equal(t, live[0].Time.Add(-10*time.Hour), first.Historical[0].Time)

	for _, b := range live[:3] {
		feed.push(b, true)
	}
	var bars, orders, trades int
	timeout := time.After(2 * time.Second)
	for trades == 0 {
		select {
		case env := <-ch:
			switch {
			case env.Bar != nil:
				bars++
			case env.Strategy != nil && env.Strategy.Type == ledger.EventOrder:
				orders++
			case env.Strategy != nil && env.Strategy.Type == ledger.EventTrade:
				trades++
			}
		case <-timeout:
			t.Fatalf("no trade event: bars=%d orders=%d", bars, orders)
		}
	}
	assert.Equal(t, 2, orders)
	assert.GreaterOrEqual(t, bars, 2)
}

func TestSessionIgnoresStaleBars(t *testing.T) {
	strat := &scripted{buyAt: -1, sellAt: -1, panicAt: -1}
	sess, feed, _, live := startSession(t, strat)
	feed.push(live[0], true)
	feed.push(live[0], true)
	feed.push(live[1], true)
	waitBars(t, sess, 2)
	assert.Equal(t, []int{0, 1}, strat.indexes())
}

func TestSessionStopClosesAdmission(t *testing.T) {
	strat := &scripted{buyAt: 0, sellAt: -1, panicAt: -1}
	sess, feed, _, live := startSession(t, strat)
	feed.push(live[0], true)
	feed.push(live[1], true)
	waitBars(t, sess, 2)

	sess.Stop()
	sess.Stop()
	assert.False(t, sess.Running())
	assert.ErrorIs(t, sess.enqueue(context.Background(), live[2]), ErrSessionStopped)
	assert.ErrorIs(t, sess.Start(context.Background()), ErrSessionStopped)
	assert.Len(t, sess.Orders(), 1)
	assert.Equal(t, 2, sess.Status().Bars)
}

func TestSessionFeedEndDrainsAndRejectsBars(t *testing.T) {
	strat := &scripted{buyAt: -1, sellAt: -1, panicAt: -1}
	sess, feed, _, live := startSession(t, strat)
	feed.push(live[0], true)
	feed.push(live[1], true)
	feed.end()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after feed ended")
	}
	assert.False(t, sess.Running())
	assert.Equal(t, 2, sess.Status().Bars)
	assert.NotPanics(t, func() {
		for i := 0; i < 200; i++ {
			assert.ErrorIs(t, sess.enqueue(context.Background(), live[2]), ErrSessionStopped)
		}
	})
}

func TestSessionRecordsStepFailure(t *testing.T) {
	strat := &scripted{buyAt: -1, sellAt: -1, panicAt: 1}
	sess, feed, _, live := startSession(t, strat)
	feed.push(live[0], true)
	feed.push(live[1], true)
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	st := sess.Status()
	assert.False(t, st.Running)
	assert.Contains(t, st.Err, "boom")
}

func TestNewSessionValidates(t *testing.T) {
	_, err := NewSession(SessionConfig{Symbol: "BTCUSDT"}, newFakeFeed(), nil, nil)
	assert.Error(t, err)
	_, err = NewSession(SessionConfig{Strategy: &scripted{panicAt: -1}}, newFakeFeed(), nil, nil)
	assert.Error(t, err)
	_, err = NewSession(SessionConfig{Symbol: "X", Strategy: &scripted{panicAt: -1}}, nil, nil, nil)
	assert.Error(t, err)
}
