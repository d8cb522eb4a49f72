package monitor

import (
	"fmt"
	"image/color"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/facecap/internal/mocap/retarget"
)

type axisSeries struct {
	name  string
	value func(retarget.Euler) float64
	color color.RGBA
}

var poseAxes = []axisSeries{
	{"pitch", func(e retarget.Euler) float64 { return e.Pitch }, color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}},
	{"yaw", func(e retarget.Euler) float64 { return e.Yaw }, color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}},
	{"roll", func(e retarget.Euler) float64 { return e.Roll }, color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}},
}

// RenderPoseChart writes an interactive HTML line chart of the head angles.
// final selects the retargeted angles instead of the normalized input.
func RenderPoseChart(w io.Writer, samples []PoseSample, final bool) error {
	title := "Head pose (normalized input)"
	if final {
		title = "Head pose (retargeted)"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "facecap pose", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d samples", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "degrees"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)

	xs := make([]string, len(samples))
	for i, s := range samples {
		xs[i] = s.At.Format("15:04:05.000")
	}
	line.SetXAxis(xs)

	for _, axis := range poseAxes {
		data := make([]opts.LineData, len(samples))
		for i, s := range samples {
			data[i] = opts.LineData{Value: axis.value(pick(s, final))}
		}
		line.AddSeries(axis.name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	return line.Render(w)
}

// RenderPosePNG writes a static PNG plot of the head angles over time.
func RenderPosePNG(w io.Writer, samples []PoseSample, final bool) error {
	p := plot.New()
	p.Title.Text = "Head pose"
	if final {
		p.Title.Text = "Head pose (retargeted)"
	}
	p.X.Label.Text = "seconds"
	p.Y.Label.Text = "degrees"

	var t0 time.Time
	if len(samples) > 0 {
		t0 = samples[0].At
	}
	for _, axis := range poseAxes {
		pts := make(plotter.XYs, len(samples))
		for i, s := range samples {
			pts[i].X = s.At.Sub(t0).Seconds()
			pts[i].Y = axis.value(pick(s, final))
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", axis.name, err)
		}
		l.Width = vg.Points(1)
		l.Color = axis.color
		p.Add(l)
		p.Legend.Add(axis.name, l)
	}
	p.Legend.Top = true

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func pick(s PoseSample, final bool) retarget.Euler {
	if final {
		return s.Final
	}
	return s.Head
}
