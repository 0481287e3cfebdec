package results

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"tradelab/internal/ledger"
	"tradelab/internal/market"
	"tradelab/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock 让所有保存落在同一秒，验证 id 递增去重。
func fixedClock() func() int64 { return func() int64 { return 1700000000 } }

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	fs.now = fixedClock()

	gs, err := NewGormStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	gs.now = fixedClock()
	t.Cleanup(func() { _ = gs.Close() })

	return map[string]Store{"file": fs, "gorm": gs}
}

func sample(symbol string, final float64) Record {
	profit := final - 10000
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	orders := []ledger.ExecutedOrder{
		{Time: t0, Side: ledger.SideBuy, Kind: ledger.KindMarket, Price: 100, Size: 1, Status: ledger.StatusFilled},
		{Time: t0.Add(time.Hour), Side: ledger.SideSell, Kind: ledger.KindMarket, Price: 100 + profit, Size: 1, Profit: &profit, Status: ledger.StatusFilled},
	}
	return Record{
		Params:     map[string]any{"symbol": symbol, "interval": "1h", "initial_capital": 10000.0},
		Orders:     orders,
		FinalValue: final,
		Metrics:    metrics.Compute(orders, 10000, final),
		Candles: market.Series{
			{Time: t0, Open: 100, High: 101, Low: 99, Close: 100, Volume: 5},
		},
		EquityCurve: []ledger.EquityPoint{{Time: t0, Equity: 10000, Cash: 10000}},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("save assigns unique ids", func(t *testing.T) {
				a, err := store.Save(ctx, sample("BTCUSDT", 10100))
				require.NoError(t, err)
				b, err := store.Save(ctx, sample("ETHUSDT", 9900))
				require.NoError(t, err)
				assert.Equal(t, int64(1700000000), a.Timestamp)
				assert.Equal(t, a.Timestamp+1, b.Timestamp)
				assert.InDelta(t, 10000, a.Equity.Initial, 1e-9)
				assert.InDelta(t, 10100, a.Equity.Final, 1e-9)

				got, err := store.Get(ctx, a.Timestamp)
				require.NoError(t, err)
				assert.Equal(t, "BTCUSDT", got.Symbol())
				assert.Len(t, got.Orders, 2)
				require.NotNil(t, got.Orders[1].Profit)
				assert.InDelta(t, 100, *got.Orders[1].Profit, 1e-9)
				assert.Len(t, got.Candles, 1)
				assert.Len(t, got.EquityCurve, 1)
				assert.Equal(t, 2, got.Metrics.NumTrades)
				assert.InDelta(t, 0.01, got.Profit(), 1e-12)

				_, err = store.Get(ctx, 42)
				assert.ErrorIs(t, err, ErrNotFound)

				n, err := store.DeleteAll(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, n)
			})

			t.Run("pagination", func(t *testing.T) {
				for i := 0; i < 25; i++ {
					_, err := store.Save(ctx, sample("BTCUSDT", 10000+float64(i)))
					require.NoError(t, err)
				}
				var sizes []int
				seen := map[int64]bool{}
				for p := 1; p <= 3; p++ {
					recs, total, err := store.List(ctx, ListQuery{Page: p, PerPage: 10})
					require.NoError(t, err)
					assert.Equal(t, 25, total)
					sizes = append(sizes, len(recs))
					for _, r := range recs {
						assert.False(t, seen[r.Timestamp])
						seen[r.Timestamp] = true
						assert.Nil(t, r.Candles)
					}
				}
				assert.Equal(t, []int{10, 10, 5}, sizes)
				recs, _, err := store.List(ctx, ListQuery{Page: 4, PerPage: 10})
				require.NoError(t, err)
				assert.Empty(t, recs)
				assert.Equal(t, 3, ListQuery{PerPage: 10}.TotalPages(25))

				n, err := store.DeleteAll(ctx)
				require.NoError(t, err)
				assert.Equal(t, 25, n)
			})

			t.Run("archive round trip", func(t *testing.T) {
				rec, err := store.Save(ctx, sample("BTCUSDT", 10500))
				require.NoError(t, err)
				before, err := store.Get(ctx, rec.Timestamp)
				require.NoError(t, err)
				require.False(t, before.Archived)

				require.NoError(t, store.Archive(ctx, rec.Timestamp))
				assert.ErrorIs(t, store.Archive(ctx, rec.Timestamp), ErrNotFound)
				archived, err := store.Get(ctx, rec.Timestamp)
				require.NoError(t, err)
				assert.True(t, archived.Archived)

				active, total, err := store.List(ctx, ListQuery{})
				require.NoError(t, err)
				assert.Equal(t, 0, total)
				assert.Empty(t, active)
				all, total, err := store.List(ctx, ListQuery{IncludeArchived: true})
				require.NoError(t, err)
				assert.Equal(t, 1, total)
				assert.True(t, all[0].Archived)

				require.NoError(t, store.Unarchive(ctx, rec.Timestamp))
				assert.ErrorIs(t, store.Unarchive(ctx, rec.Timestamp), ErrNotFound)
				after, err := store.Get(ctx, rec.Timestamp)
				require.NoError(t, err)
				assert.False(t, after.Archived)
				assert.Equal(t, before, after)

				_, err = store.DeleteAll(ctx)
				require.NoError(t, err)
			})

			t.Run("update and delete", func(t *testing.T) {
				rec, err := store.Save(ctx, sample("BTCUSDT", 10000))
				require.NoError(t, err)
				name, notes := "baseline", "first pass"
				updated, err := store.Update(ctx, rec.Timestamp, &name, nil)
				require.NoError(t, err)
				assert.Equal(t, "baseline", updated.Name)
				assert.Equal(t, "", updated.Notes)
				updated, err = store.Update(ctx, rec.Timestamp, nil, &notes)
				require.NoError(t, err)
				assert.Equal(t, "baseline", updated.Name)
				assert.Equal(t, "first pass", updated.Notes)

				require.NoError(t, store.Archive(ctx, rec.Timestamp))
				_, err = store.Update(ctx, rec.Timestamp, &notes, nil)
				require.NoError(t, err)
				got, err := store.Get(ctx, rec.Timestamp)
				require.NoError(t, err)
				assert.Equal(t, "first pass", got.Name)
				assert.True(t, got.Archived)

				_, err = store.Update(ctx, 7, &name, nil)
				assert.ErrorIs(t, err, ErrNotFound)
				require.NoError(t, store.Delete(ctx, rec.Timestamp))
				assert.ErrorIs(t, store.Delete(ctx, rec.Timestamp), ErrNotFound)
			})

			t.Run("sorting", func(t *testing.T) {
				inputs := []struct {
					symbol string
					final  float64
					name   string
				}{
					{"ETHUSDT", 9000, "beta"},
					{"BTCUSDT", 12000, "Alpha"},
					{"SOLUSDT", 10500, "gamma"},
				}
				for _, in := range inputs {
					r := sample(in.symbol, in.final)
					r.Name = in.name
					_, err := store.Save(ctx, r)
					require.NoError(t, err)
				}
				order := func(q ListQuery) []string {
					recs, _, err := store.List(ctx, q)
					require.NoError(t, err)
					out := make([]string, len(recs))
					for i, r := range recs {
						out[i] = r.Symbol()
					}
					return out
				}
				assert.Equal(t, []string{"SOLUSDT", "BTCUSDT", "ETHUSDT"}, order(ListQuery{}))
				assert.Equal(t, []string{"ETHUSDT", "BTCUSDT", "SOLUSDT"}, order(ListQuery{SortOrder: "asc"}))
				assert.Equal(t, []string{"BTCUSDT", "SOLUSDT", "ETHUSDT"}, order(ListQuery{SortBy: "profit"}))
				assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, order(ListQuery{SortBy: "name", SortOrder: "asc"}))
				assert.Equal(t, []string{"SOLUSDT", "ETHUSDT", "BTCUSDT"}, order(ListQuery{SortBy: "symbol"}))
			})
		})
	}
}

func TestProfitSortKey(t *testing.T) {
	assert.InDelta(t, 0.1, profitRatio(100, 110), 1e-12)
	assert.Equal(t, 0.0, profitRatio(0, 110))
	r := Record{FinalValue: 50, Equity: Equity{Initial: 100}}
	assert.InDelta(t, -0.5, r.Profit(), 1e-12)
}

func TestListQueryNormalize(t *testing.T) {
	q := ListQuery{Page: -1, PerPage: 1000, SortBy: "bogus", SortOrder: "ASC"}.Normalize()
	assert.Equal(t, ListQuery{Page: 1, PerPage: 100, SortBy: SortTimestamp, SortOrder: "asc"}, q)
	assert.Equal(t, "desc", ListQuery{}.Normalize().SortOrder)
}

func TestParseID(t *testing.T) {
	id, err := ParseID(" 1617235200 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1617235200), id)
	for _, raw := range []string{"", "abc", "-5", "0"} {
		_, err := ParseID(raw)
		assert.ErrorIs(t, err, ErrNotFound, fmt.Sprintf("input %q", raw))
	}
}
