package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/pol2cat/internal/catalogue"
	"github.com/banshee-data/pol2cat/internal/vecplot"
)

// VectorStore keeps the catalogue rows of a run. *history.Run satisfies it.
type VectorStore interface {
	SaveVectors(vs []catalogue.Vector) error
}

// Products names the outputs made from the finished catalogue. Empty
// paths and a nil Store are skipped.
type Products struct {
	PNG    string
	Report string
	Store  VectorStore
}

// catalogueFile returns the file polvec wrote for cat, which gains a
// ".FIT" extension when none was given.
func catalogueFile(cat string) string {
	if filepath.Ext(cat) == "" {
		if _, err := os.Stat(cat + ".FIT"); err == nil {
			return cat + ".FIT"
		}
	}
	return cat
}

// WriteProducts reads the catalogue of a completed run, logs its
// statistics and writes the requested products. Vectors are chosen for
// plotting by the same rules as the catselect expression.
func (d *Driver) WriteProducts(res *Result, p Products) (catalogue.Summary, error) {
	d.defaults()
	path := catalogueFile(res.Catalogue)
	vs, err := catalogue.Read(path)
	if err != nil {
		return catalogue.Summary{}, err
	}

	quantity := d.Params.Plot
	if quantity == "" {
		quantity = "P"
	}
	sel := catalogue.Selection{SNR: d.Params.SNR, MaxLen: d.Params.MaxLen, Quantity: quantity}
	selected := catalogue.Select(vs, sel)

	sum := catalogue.Summarise(vs)
	sum.Selected = len(selected)
	d.Log.Progressf("Catalogue %s: %d vectors, %d with PI > %g*DPI", path, sum.N, sum.Selected, sel.SNR)
	d.Log.Progressf("  P mean %.3g, median %.3g, std dev %.3g; mean PI SNR %.3g; mean angle %.1f deg",
		sum.MeanP, sum.MedianP, sum.StdDevP, sum.MeanSNR, sum.MeanAng)

	opts := vecplot.Options{
		Title:    filepath.Base(path),
		Quantity: quantity,
		Scale:    d.Config.GetVectorScale(),
	}
	if p.PNG != "" {
		if err := vecplot.WritePNG(p.PNG, selected, opts); err != nil {
			return sum, err
		}
		d.Log.Progressf("Vector plot written to %s", p.PNG)
	}
	if p.Report != "" {
		if err := vecplot.WriteHTML(p.Report, selected, opts); err != nil {
			return sum, err
		}
		d.Log.Progressf("Report written to %s", p.Report)
	}
	if p.Store != nil {
		if err := p.Store.SaveVectors(vs); err != nil {
			return sum, fmt.Errorf("store vectors: %w", err)
		}
	}
	return sum, nil
}
