// Package vecplot draws polarisation vector maps from catalogue rows.
package vecplot

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/pol2cat/internal/catalogue"
)

// Options control the vector plot.
type Options struct {
	Title string
	// Quantity sets vector length: "P" or "PI".
	Quantity string
	// Scale is the length, in catalogue pixels, of a unit vector.
	Scale float64
}

// Vectors is a plotter that draws each vector as a line segment centred
// on its position.
type Vectors struct {
	Segments  [][2][2]float64
	LineStyle draw.LineStyle
}

// NewVectors computes the segment end points. ANG is measured in degrees
// anticlockwise from the +Y axis.
func NewVectors(vs []catalogue.Vector, quantity string, scale float64) *Vectors {
	if scale <= 0 {
		scale = 1
	}
	out := &Vectors{LineStyle: draw.LineStyle{Color: color.RGBA{R: 196, A: 255}, Width: vg.Points(1)}}
	for _, v := range vs {
		length := v.Value(quantity) * scale
		if math.IsNaN(length) || math.IsNaN(v.Ang) {
			continue
		}
		theta := v.Ang * math.Pi / 180
		dx := -math.Sin(theta) * length / 2
		dy := math.Cos(theta) * length / 2
		out.Segments = append(out.Segments, [2][2]float64{
			{v.X - dx, v.Y - dy},
			{v.X + dx, v.Y + dy},
		})
	}
	return out
}

// Plot implements plot.Plotter.
func (vp *Vectors) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&c)
	for _, s := range vp.Segments {
		c.StrokeLine2(vp.LineStyle,
			trX(s[0][0]), trY(s[0][1]),
			trX(s[1][0]), trY(s[1][1]))
	}
}

// DataRange implements plot.DataRanger.
func (vp *Vectors) DataRange() (xmin, xmax, ymin, ymax float64) {
	if len(vp.Segments) == 0 {
		return 0, 1, 0, 1
	}
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	for _, s := range vp.Segments {
		for _, p := range s {
			xmin = math.Min(xmin, p[0])
			xmax = math.Max(xmax, p[0])
			ymin = math.Min(ymin, p[1])
			ymax = math.Max(ymax, p[1])
		}
	}
	return xmin, xmax, ymin, ymax
}

// WritePNG saves a vector map of vs to path.
func WritePNG(path string, vs []catalogue.Vector, o Options) error {
	p := plot.New()
	p.Title.Text = o.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("%d %s vectors", len(vs), o.Quantity)
	}
	p.X.Label.Text = "X (pixels)"
	p.Y.Label.Text = "Y (pixels)"
	p.Add(NewVectors(vs, o.Quantity, o.Scale))

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save vector plot: %w", err)
	}
	return nil
}
