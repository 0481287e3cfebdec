// Package chart 把回测结果渲染为 go-echarts 页面：K 线 + 买卖标记 + EMA、成交量、资金曲线。
package chart

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"tradelab/internal/ledger"
	"tradelab/internal/market"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEmaFast       = "#3b82f6"
	colorEmaSlow       = "#f472b6"
	colorEquity        = "#fbbf24"

	chartWidthPx   = 1400
	klineHeightPx  = 560
	volumeHeightPx = 220
	equityHeightPx = 280

	axisLayout = "2006-01-02 15:04"
)

// Input 是一次渲染所需的数据。
type Input struct {
	Title   string
	Candles market.Series
	Orders  []ledger.ExecutedOrder
	Equity  []ledger.EquityPoint
}

// BuildPage 组装图表页面。没有 K 线时返回错误。
func BuildPage(in Input) (*components.Page, error) {
	if len(in.Candles) == 0 {
		return nil, fmt.Errorf("no candles to chart for %q", in.Title)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(in.Candles)
	page.AddCharts(buildKline(in, xAxis), buildVolume(xAxis, in.Candles))
	if len(in.Equity) > 0 {
		page.AddCharts(buildEquity(in.Equity))
	}
	return page, nil
}

// RenderHTML 把页面写入 w。
func RenderHTML(w io.Writer, in Input) error {
	page, err := BuildPage(in)
	if err != nil {
		return err
	}
	return page.Render(w)
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func buildKline(in Input, xAxis []string) *charts.Kline {
	minPrice, maxPrice := priceBounds(in.Candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(klineHeightPx)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         in.Title,
			Subtitle:      summary(in.Orders),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	data := make([]opts.KlineData, len(in.Candles))
	for i, c := range in.Candles {
		data[i] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data, charts.WithMarkPointNameCoordItemOpts(orderMarkers(in.Orders)...))
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	closes := in.Candles.Closes()
	ema := charts.NewLine()
	ema.SetXAxis(xAxis)
	ema.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	if len(closes) > 20 {
		ema.AddSeries("EMA20", toLineData(talib.Ema(closes, 20), 20), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaFast, Width: 2}))
	}
	if len(closes) > 50 {
		ema.AddSeries("EMA50", toLineData(talib.Ema(closes, 50), 50), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaSlow, Width: 2}))
	}
	kline.Overlap(ema)
	return kline
}

// orderMarkers 把成交订单画成买卖标记，坐标取成交所在 K 线与成交价。
func orderMarkers(orders []ledger.ExecutedOrder) []opts.MarkPointNameCoordItem {
	out := make([]opts.MarkPointNameCoordItem, 0, len(orders))
	for _, o := range orders {
		if o.Status != "" && o.Status != ledger.StatusFilled {
			continue
		}
		color, symbol := colorBull, "arrow"
		if o.Side == ledger.SideSell {
			color, symbol = colorBear, "pin"
		}
		out = append(out, opts.MarkPointNameCoordItem{
			Name:       string(o.Side),
			Coordinate: []interface{}{o.Time.UTC().Format(axisLayout), round(o.Price, 4)},
			Value:      fmt.Sprintf("%s %.4g", strings.ToUpper(string(o.Side)), o.Price),
			Symbol:     symbol,
			ItemStyle:  &opts.ItemStyle{Color: color},
			Label:      &opts.Label{Show: opts.Bool(false)},
		})
	}
	return out
}

func buildVolume(xAxis []string, candles market.Series) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(volumeHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Volume", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(candles))
	for i, c := range candles {
		color := colorBear
		if c.Close >= c.Open {
			color = colorBull
		}
		vols[i] = opts.BarData{Value: c.Volume, ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)}}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

func buildEquity(curve []ledger.EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(equityHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	x := make([]string, len(curve))
	data := make([]opts.LineData, len(curve))
	for i, p := range curve {
		x[i] = p.Time.UTC().Format(axisLayout)
		data[i] = opts.LineData{Value: round(p.Equity, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)
	return line
}

func summary(orders []ledger.ExecutedOrder) string {
	buys, sells := 0, 0
	profit := 0.0
	for _, o := range orders {
		switch o.Side {
		case ledger.SideBuy:
			buys++
		case ledger.SideSell:
			sells++
		}
		profit += o.ProfitValue()
	}
	return fmt.Sprintf("buys %d | sells %d | realized %.2f", buys, sells, profit)
}

func buildXAxis(candles market.Series) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = c.Time.UTC().Format(axisLayout)
	}
	return x
}

// toLineData 把 talib 输出转成折线数据，前 lookback 个值留空。
func toLineData(series []float64, lookback int) []opts.LineData {
	line := make([]opts.LineData, len(series))
	for i, v := range series {
		if i < lookback-1 || math.IsNaN(v) {
			line[i] = opts.LineData{Value: nil}
			continue
		}
		line[i] = opts.LineData{Value: round(v, 4)}
	}
	return line
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles market.Series) (minVal, maxVal float64) {
	minVal, maxVal = candles[0].Low, candles[0].High
	for _, c := range candles {
		minVal = math.Min(minVal, c.Low)
		maxVal = math.Max(maxVal, c.High)
	}
	return minVal, maxVal
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// HeadlessAvailable 检测本机能否启动 headless Chrome（只探测一次）。
func HeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		parent, cancel := chromedp.NewContext(ctx)
		defer cancel()
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

// RenderPNG 用 headless Chrome 把页面截图为 PNG。
func RenderPNG(ctx context.Context, in Input) ([]byte, error) {
	if err := HeadlessAvailable(ctx); err != nil {
		return nil, fmt.Errorf("headless chrome unavailable: %w", err)
	}
	var buf bytes.Buffer
	if err := RenderHTML(&buf, in); err != nil {
		return nil, err
	}
	height := klineHeightPx + volumeHeightPx
	if len(in.Equity) > 0 {
		height += equityHeightPx
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	var shot []byte
	err := chromedp.Run(timeoutCtx,
		chromedp.EmulateViewport(int64(chartWidthPx), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500*time.Millisecond),
		chromedp.FullScreenshot(&shot, 0),
	)
	if err != nil {
		return nil, err
	}
	return shot, nil
}
