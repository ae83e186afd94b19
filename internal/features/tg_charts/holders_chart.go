package tg_charts

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"go.uber.org/zap"

	logging "holders-snapshot/internal/infra/log"
)

const (
	chartWidth = 1600

	headerHeight = 170.0
	rowHeight    = 56.0
	footerHeight = 60.0

	labelAreaLeft   = 40.0
	chartAreaLeft   = 520.0
	chartAreaRight  = 1380.0
	valueAreaOffset = 16.0

	barHeightRatio = 0.7

	titleFontSize    = 44.0
	subtitleFontSize = 26.0
	labelFontSize    = 24.0
)

var (
	backgroundColor = color.RGBA{18, 18, 24, 255}
	barColor        = color.RGBA{120, 110, 255, 255}
	fallbackColor   = color.RGBA{110, 110, 110, 255}
	textColor       = color.White
	mutedColor      = color.RGBA{170, 170, 180, 255}
)

// Bar is one row of the chart.
type Bar struct {
	Label    string
	Value    float64
	Display  string // value text; defaults to %.2f
	Fallback bool   // drawn grey: the value is a fallback, not a real lookup
}

// fontPaths are tried in order; gg's built-in face is used when none loads.
var fontPaths = []string{
	"etc/fonts/InterVariable.ttf",
	"etc/fonts/Inter-Regular.ttf",
	"~/Library/Fonts/Inter-Regular.ttf",
	"/Library/Fonts/Inter-Regular.ttf",
	"/usr/share/fonts/truetype/inter/Inter-Regular.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[1:])
		}
	}
	return path
}

type fonts struct {
	path string
}

func findFont(dc *gg.Context) fonts {
	for _, p := range fontPaths {
		expanded := expandPath(p)
		if _, err := os.Stat(expanded); err != nil {
			continue
		}
		if err := dc.LoadFontFace(expanded, labelFontSize); err != nil {
			logging.LogWarn("Font file exists but failed to load", zap.String("path", expanded), zap.Error(err))
			continue
		}
		logging.LogDebug("Loaded chart font", zap.String("path", expanded))
		return fonts{path: expanded}
	}
	logging.LogDebug("No TrueType font found, using built-in face", zap.Int("paths_checked", len(fontPaths)))
	return fonts{}
}

func (f fonts) use(dc *gg.Context, size float64) {
	if f.path != "" {
		dc.LoadFontFace(f.path, size)
	}
}

// RenderBarChart draws a horizontal bar chart, one row per bar in the given order,
// and returns it PNG-encoded.
func RenderBarChart(title, subtitle string, bars []Bar) ([]byte, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars to render")
	}

	height := int(headerHeight + rowHeight*float64(len(bars)) + footerHeight)
	dc := gg.NewContext(chartWidth, height)
	dc.SetColor(backgroundColor)
	dc.Clear()

	font := findFont(dc)

	font.use(dc, titleFontSize)
	dc.SetColor(textColor)
	dc.DrawString(title, labelAreaLeft, 70)

	font.use(dc, subtitleFontSize)
	dc.SetColor(mutedColor)
	dc.DrawString(subtitle, labelAreaLeft, 120)

	maxValue := 0.0
	for _, b := range bars {
		if b.Value > maxValue {
			maxValue = b.Value
		}
	}
	if maxValue == 0 {
		maxValue = 1.0
	}

	font.use(dc, labelFontSize)
	areaWidth := chartAreaRight - chartAreaLeft
	for i, b := range bars {
		rowTop := headerHeight + float64(i)*rowHeight
		barH := rowHeight * barHeightRatio
		barY := rowTop + (rowHeight-barH)/2
		textY := rowTop + rowHeight/2 + labelFontSize/3

		dc.SetColor(textColor)
		dc.DrawString(fmt.Sprintf("%2d. %s", i+1, shortLabel(b.Label)), labelAreaLeft, textY)

		width := (b.Value / maxValue) * areaWidth
		if b.Value > 0 && width < 2 {
			width = 2
		}
		if b.Fallback {
			dc.SetColor(fallbackColor)
		} else {
			dc.SetColor(barColor)
		}
		dc.DrawRectangle(chartAreaLeft, barY, width, barH)
		dc.Fill()

		display := b.Display
		if display == "" {
			display = fmt.Sprintf("%.2f", b.Value)
		}
		dc.SetColor(mutedColor)
		dc.DrawString(display, chartAreaLeft+width+valueAreaOffset, textY)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode chart: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("chart is empty after rendering")
	}

	logging.LogInfo("Chart rendered", zap.String("title", title), zap.Int("bars", len(bars)), zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// shortLabel turns 0x1234...abcd style addresses into a compact form.
func shortLabel(label string) string {
	if strings.HasPrefix(label, "0x") && len(label) == 42 {
		return label[:8] + "…" + label[len(label)-6:]
	}
	return label
}
