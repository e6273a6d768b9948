package chart

import (
	"bytes"
	"sync"

	"crypto-tracker/internal/types"
	"crypto-tracker/lib/helpers"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/font/gofont/goregular"
)

var ErrNotEnoughData = errors.New("at least two snapshots are needed to draw a chart")

var (
	fontOnce sync.Once
	font     *truetype.Font
	fontErr  error
)

var (
	backgroundColor = drawing.Color{R: 55, G: 55, B: 55, A: 255}
	textColor       = drawing.Color{R: 200, G: 200, B: 200, A: 255}
	gridColor       = drawing.Color{R: 100, G: 100, B: 100, A: 128}
	lineColor       = drawing.Color{R: 0, G: 122, B: 255, A: 255}
	fillColor       = drawing.Color{R: 0, G: 122, B: 255, A: 40}
)

func loadFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		font, fontErr = truetype.Parse(goregular.TTF)
	})
	return font, fontErr
}

func formatUSD(v interface{}) string {
	if f, ok := v.(float64); ok {
		return "$" + helpers.FormatPriceUS(f, false)
	}
	return ""
}

// RenderHistory draws the portfolio value over time as a PNG.
func RenderHistory(title string, snapshots []types.HistorySnapshot) ([]byte, error) {
	if len(snapshots) < 2 {
		return nil, ErrNotEnoughData
	}

	f, err := loadFont()
	if err != nil {
		return nil, errors.Wrap(err, "could not load chart font")
	}

	series := gochart.TimeSeries{
		Name: "Portfolio value",
		Style: gochart.Style{
			StrokeColor: lineColor,
			StrokeWidth: 2,
			FillColor:   fillColor,
		},
	}
	minValue, maxValue := snapshots[0].TotalValueUSD, snapshots[0].TotalValueUSD
	for _, s := range snapshots {
		series.XValues = append(series.XValues, s.Timestamp)
		series.YValues = append(series.YValues, s.TotalValueUSD)
		if s.TotalValueUSD < minValue {
			minValue = s.TotalValueUSD
		}
		if s.TotalValueUSD > maxValue {
			maxValue = s.TotalValueUSD
		}
	}

	padding := (maxValue - minValue) * 0.1
	if padding == 0 {
		padding = 1
	}

	axisStyle := gochart.Style{FontColor: textColor, StrokeColor: textColor, FontSize: 10}
	graph := gochart.Chart{
		Title:      title,
		TitleStyle: gochart.Style{FontColor: textColor, FontSize: 14},
		Width:      1200,
		Height:     500,
		Font:       f,
		Background: gochart.Style{
			FillColor: backgroundColor,
			Padding:   gochart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		Canvas: gochart.Style{FillColor: backgroundColor},
		XAxis: gochart.XAxis{
			Style:          axisStyle,
			ValueFormatter: gochart.TimeValueFormatterWithFormat("02-Jan 15:04"),
		},
		YAxis: gochart.YAxis{
			Style:          axisStyle,
			ValueFormatter: formatUSD,
			GridMajorStyle: gochart.Style{StrokeColor: gridColor, StrokeWidth: 1},
			Range:          &gochart.ContinuousRange{Min: minValue - padding, Max: maxValue + padding},
		},
		Series: []gochart.Series{series},
	}

	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, errors.Wrap(err, "could not render history chart")
	}
	return buf.Bytes(), nil
}
