package vecplot

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pol2cat/internal/catalogue"
)

const histogramBins = 20

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Histogram counts values into n equal bins spanning their range. It
// returns the bin edges (n+1) and counts (n). NaN values are skipped.
func Histogram(values []float64, n int) (edges, counts []float64) {
	x := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			x = append(x, v)
		}
	}
	if len(x) == 0 || n < 1 {
		return nil, nil
	}
	sort.Float64s(x)
	lo, hi := x[0], x[len(x)-1]
	if hi == lo {
		hi = lo + 1
	}
	edges = floats.Span(make([]float64, n+1), lo, hi)
	// stat.Histogram needs the upper edge to exceed the largest value.
	dividers := append([]float64(nil), edges...)
	dividers[n] = math.Nextafter(hi, math.Inf(1))
	counts = stat.Histogram(nil, dividers, x, nil)
	return edges, counts
}

// RenderHTML writes a page with a position scatter coloured by the plotted
// quantity and a histogram of that quantity.
func RenderHTML(w io.Writer, vs []catalogue.Vector, o Options) error {
	q := o.Quantity
	if q == "" {
		q = "P"
	}

	points := make([]opts.ScatterData, 0, len(vs))
	values := make([]float64, 0, len(vs))
	maxVal := 0.0
	for _, v := range vs {
		val := v.Value(q)
		if math.IsNaN(val) {
			continue
		}
		points = append(points, opts.ScatterData{Value: []interface{}{v.X, v.Y, val}})
		values = append(values, val)
		maxVal = math.Max(maxVal, val)
	}

	title := o.Title
	if title == "" {
		title = "pol2cat vectors"
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%s, %d vectors", q, len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (pixels)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (pixels)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxVal),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries(q, points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	edges, counts := Histogram(values, histogramBins)
	labels := make([]string, len(counts))
	bars := make([]opts.BarData, len(counts))
	for i, c := range counts {
		labels[i] = fmt.Sprintf("%.3g", (edges[i]+edges[i+1])/2)
		bars[i] = opts.BarData{Value: c}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: q + " distribution"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).AddSeries("count", bars)

	page := components.NewPage()
	page.AddCharts(scatter, bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// WriteHTML saves the report produced by RenderHTML to path.
func WriteHTML(path string, vs []catalogue.Vector, o Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := RenderHTML(f, vs, o); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
