// Package catalogue reads the FITS vector catalogues written by POLPACK
// polvec and selects and summarises their rows.
package catalogue

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/soniakeys/unit"
	"gonum.org/v1/gonum/stat"
)

// Vector is one row of a polarisation vector catalogue. X and Y are pixel
// coordinates; ANG is in degrees anticlockwise from the reference
// direction.
type Vector struct {
	X, Y    float64
	RA, Dec unit.Angle
	I, DI   float64
	Q, DQ   float64
	U, DU   float64
	P, DP   float64
	Ang     float64
	DAng    float64
	PI, DPI float64
}

// Value returns the quantity named by q, "P" or "PI".
func (v Vector) Value(q string) float64 {
	if strings.EqualFold(q, "PI") {
		return v.PI
	}
	return v.P
}

// required lists the columns a catalogue must carry.
var required = []string{"X", "Y", "P", "ANG", "PI", "DPI"}

// Read returns the rows of the first table extension of the FITS file at
// path.
func Read(path string) ([]Vector, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("read FITS header of %s: %w", path, err)
	}
	defer f.Close()

	var tbl *fitsio.Table
	for _, hdu := range f.HDUs() {
		if t, ok := hdu.(*fitsio.Table); ok {
			tbl = t
			break
		}
	}
	if tbl == nil {
		return nil, fmt.Errorf("%s has no table extension", path)
	}

	for _, name := range required {
		if tbl.Index(name) < 0 {
			return nil, fmt.Errorf("%s has no %s column", path, name)
		}
	}

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("read rows of %s: %w", path, err)
	}
	defer rows.Close()

	vs := make([]Vector, 0, tbl.NumRows())
	for rows.Next() {
		data := make(map[string]interface{})
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", path, err)
		}
		vs = append(vs, fromRow(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows of %s: %w", path, err)
	}
	return vs, nil
}

func fromRow(row map[string]interface{}) Vector {
	get := func(name string) float64 {
		return number(row[name])
	}
	return Vector{
		X: get("X"), Y: get("Y"),
		RA: unit.Angle(get("RA")), Dec: unit.Angle(get("DEC")),
		I: get("I"), DI: get("DI"),
		Q: get("Q"), DQ: get("DQ"),
		U: get("U"), DU: get("DU"),
		P: get("P"), DP: get("DP"),
		Ang: get("ANG"), DAng: get("DANG"),
		PI: get("PI"), DPI: get("DPI"),
	}
}

// number converts a scanned cell to float64. Missing columns read as zero;
// bad values in float columns are already NaN.
func number(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case int:
		return float64(x)
	default:
		return 0
	}
}

// Selection chooses the vectors worth plotting.
type Selection struct {
	SNR float64
	// MaxLen is the exclusive upper limit on the plotted quantity; nil
	// means no limit.
	MaxLen   *float64
	Quantity string
}

// Select returns the vectors with PI above SNR times its error and, when
// MaxLen is set, a plotted quantity below MaxLen.
func Select(vs []Vector, sel Selection) []Vector {
	var out []Vector
	for _, v := range vs {
		if !(v.PI > sel.SNR*v.DPI) {
			continue
		}
		if sel.MaxLen != nil && !(v.Value(sel.Quantity) < *sel.MaxLen) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Summary holds catalogue statistics for the run log and history.
type Summary struct {
	N        int
	MeanP    float64
	MedianP  float64
	StdDevP  float64
	MeanPI   float64
	MaxPI    float64
	MeanSNR  float64
	MeanAng  float64 // degrees, in (-90, 90]
	Selected int
}

// Summarise computes statistics of vs. The mean angle treats vectors as
// axial, so 0 and 180 degrees agree.
func Summarise(vs []Vector) Summary {
	s := Summary{N: len(vs)}
	if len(vs) == 0 {
		return s
	}

	var p, pi, snr, twice []float64
	for _, v := range vs {
		if !math.IsNaN(v.P) {
			p = append(p, v.P)
		}
		if !math.IsNaN(v.PI) {
			pi = append(pi, v.PI)
			if v.DPI > 0 {
				snr = append(snr, v.PI/v.DPI)
			}
		}
		if !math.IsNaN(v.Ang) {
			twice = append(twice, 2*v.Ang*math.Pi/180)
		}
	}

	if len(p) > 0 {
		s.MeanP, s.StdDevP = stat.MeanStdDev(p, nil)
		if len(p) == 1 {
			s.StdDevP = 0
		}
		sorted := append([]float64(nil), p...)
		sort.Float64s(sorted)
		s.MedianP = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	}
	if len(pi) > 0 {
		s.MeanPI = stat.Mean(pi, nil)
		s.MaxPI = pi[0]
		for _, x := range pi[1:] {
			if x > s.MaxPI {
				s.MaxPI = x
			}
		}
	}
	if len(snr) > 0 {
		s.MeanSNR = stat.Mean(snr, nil)
	}
	if len(twice) > 0 {
		s.MeanAng = stat.CircularMean(twice, nil) / 2 * 180 / math.Pi
	}
	return s
}
