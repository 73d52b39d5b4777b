// Package params declares the pol2cat parameters and turns command-line
// words into validated values.
package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/soniakeys/unit"

	"github.com/banshee-data/pol2cat/internal/monitoring"
	"github.com/banshee-data/pol2cat/internal/starlink"
)

// Null is the value that leaves an optional parameter unset.
const Null = "!"

// DefaultConfig is the SMURF cleaning configuration used when CONFIG is not
// given. It is expanded by the Starlink tasks, not by the shell.
const DefaultConfig = "^$STARLINK_DIR/share/smurf/dimmconfig.lis"

// Decl describes one parameter.
type Decl struct {
	Name   string
	Prompt string
	Help   string
	// Default is used when no value is given; Null for optional values.
	// An empty Default with Required set means the user must supply one.
	Default  string
	Required bool
	// Prompted parameters are asked for on a terminal when missing.
	Prompted bool
}

// Decls lists the parameters in positional order.
var Decls = []Decl{
	{Name: "IN", Prompt: "The input POL2 time series NDFs", Required: true, Prompted: true,
		Help: "A group of POL-2 time series NDFs, as a file name, wildcard or ^list file."},
	{Name: "CAT", Prompt: "The output FITS vector catalogue", Default: "out.FIT", Prompted: true,
		Help: "The output FITS vector catalogue."},
	{Name: "IREF", Prompt: "The reference total flux map", Default: Null, Prompted: true,
		Help: "An optional total intensity map covering the same area. Enter a null (!) to use an artificial total flux map formed from the polarised intensity."},
	{Name: "PI", Prompt: "The output polarised intensity map", Default: Null, Prompted: true,
		Help: "The output NDF in which to return the polarised intensity map. No map is created if null (!) is supplied."},
	{Name: "PLOT", Prompt: "Quantity to define lengths of plotted vectors", Default: Null,
		Help: "P for percentage polarisation, PI for polarised intensity, or null (!) for no plot."},
	{Name: "SNR", Prompt: "Polarised intensity SNR threshold for plotted vectors", Default: "3.0",
		Help: "The minimum ratio of the polarised intensity to its error for vectors to be plotted."},
	{Name: "MAXLEN", Prompt: "Maximum vector length to plot", Default: Null,
		Help: "The maximum length of plotted vectors, in terms of the PLOT quantity. Null (!) imposes no maximum."},
	{Name: "DOMAIN", Prompt: "Domain for alignment", Default: "SKY",
		Help: "SKY aligns in celestial coordinates, FPLANE in focal plane coordinates."},
	{Name: "PIXSIZE", Prompt: "Pixel size (arcsec)", Default: Null,
		Help: "The pixel size of the combined Q and U images, in arc-seconds. Null (!) uses the IREF pixel size, or the bolometer spacing when IREF is null."},
	{Name: "CONFIG", Prompt: "The cleaning config", Default: DefaultConfig,
		Help: "The configuration used when cleaning the raw data, given as for the CONFIG parameter of SMURF:MAKEMAP."},
	{Name: "DEVICE", Prompt: "Device for graphical output", Default: "",
		Help: "The graphics device for the vector plot. Blank uses the current graphics device."},
	{Name: "RETAIN", Prompt: "Retain temporary files?", Default: "FALSE",
		Help: "Keep the temporary directory of intermediate files. Its path is reported at the end."},
	{Name: "MSG_FILTER", Prompt: "Starlink messaging level", Default: "NORMAL",
		Help: "Default messaging level of the Starlink tasks: None, Quiet, Normal, Verbose or Debug."},
	{Name: "ILEVEL", Prompt: "Screen information level", Default: "PROGRESS",
		Help: "NONE, CRITICAL, PROGRESS, ATASK or DEBUG. ATASK shows each task command line after \">>>\" and its output."},
	{Name: "GLEVEL", Prompt: "Log file information level", Default: "ATASK",
		Help: "As ILEVEL, for the log file named by LOGFILE."},
	{Name: "LOGFILE", Prompt: "Log file", Default: "pol2cat.log",
		Help: "The log file written when GLEVEL is not NONE. Any existing file is overwritten."},
}

// Lookup returns the declaration for name, ignoring case.
func Lookup(name string) (Decl, bool) {
	for _, d := range Decls {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Decl{}, false
}

// Raw holds parameter text as given on the command line, keyed by
// upper-case name.
type Raw map[string]string

// Parse assigns command-line words to parameters. A word NAME=value sets
// the named parameter; any other word fills the next positional slot.
func Parse(args []string) (Raw, error) {
	raw := Raw{}
	pos := 0
	for _, arg := range args {
		if i := strings.Index(arg, "="); i > 0 {
			if d, ok := Lookup(arg[:i]); ok {
				if _, dup := raw[d.Name]; dup {
					return nil, starlink.Errorf(starlink.KindParameter, "parameter %s given more than once", d.Name)
				}
				raw[d.Name] = arg[i+1:]
				continue
			}
		}
		for pos < len(Decls) {
			if _, taken := raw[Decls[pos].Name]; !taken {
				break
			}
			pos++
		}
		if pos >= len(Decls) {
			return nil, starlink.Errorf(starlink.KindParameter, "too many positional values: %q", arg)
		}
		raw[Decls[pos].Name] = arg
		pos++
	}
	return raw, nil
}

// Values are the validated parameters of one run.
type Values struct {
	In      string
	Cat     string
	IRef    string // empty when null
	PI      string // empty when null
	Plot    string // "", "P" or "PI"
	SNR     float64
	MaxLen  *float64
	Domain  string
	PixSize *unit.Angle
	// Config is the unquoted CONFIG text.
	Config    string
	Device    string
	Retain    bool
	MsgFilter string
	ILevel    monitoring.Level
	GLevel    monitoring.Level
	LogFile   string
}

// PixSizeArcsec returns PIXSIZE in arc-seconds, or zero when null.
func (v *Values) PixSizeArcsec() float64 {
	if v.PixSize == nil {
		return 0
	}
	// Rounded so "4" reaches the command line as 4, not 3.9999999999999996.
	return math.Round(v.PixSize.Sec()*1e9) / 1e9
}

// Resolve validates raw, fills in defaults and asks p for missing prompted
// values. p may be nil, in which case defaults are used without asking.
func Resolve(raw Raw, p Prompter) (*Values, error) {
	r := resolver{raw: raw, prompter: p, noPrompt: map[string]bool{}}
	v := &Values{}

	v.In = r.text("IN", false)
	v.Cat = r.text("CAT", false)
	v.IRef = r.text("IREF", true)
	// A supplied reference map makes PI default to null without asking.
	r.noPrompt["PI"] = v.IRef != ""
	v.PI = r.text("PI", true)

	v.Plot = r.choice("PLOT", []string{"P", "PI"}, true)
	v.SNR = r.real("SNR", 0, 1000)
	if s := r.text("MAXLEN", true); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			r.fail("MAXLEN", "%q is not a number", s)
		}
		v.MaxLen = &f
	}
	v.Domain = r.choice("DOMAIN", []string{"SKY", "FPLANE"}, false)
	if s := r.text("PIXSIZE", true); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		switch {
		case err != nil:
			r.fail("PIXSIZE", "%q is not a number", s)
		case f < 0.01 || f > 1000:
			r.fail("PIXSIZE", "%g is outside the range 0.01 to 1000 arc-seconds", f)
		default:
			a := unit.AngleFromSec(f)
			v.PixSize = &a
		}
	}
	v.Config = r.text("CONFIG", false)
	v.Device = r.optional("DEVICE")
	v.Retain = r.logical("RETAIN")
	v.MsgFilter = r.choice("MSG_FILTER", starlink.MsgFilters, false)
	v.ILevel = r.level("ILEVEL")
	v.GLevel = r.level("GLEVEL")
	v.LogFile = r.text("LOGFILE", false)

	if r.err != nil {
		return nil, r.err
	}
	return v, nil
}

// resolver keeps the first error so Resolve reads as a list of fields.
type resolver struct {
	raw      Raw
	prompter Prompter
	noPrompt map[string]bool
	err      error
}

func (r *resolver) fail(name, format string, args ...interface{}) {
	if r.err == nil {
		r.err = starlink.Errorf(starlink.KindParameter, "%s: %s", name, fmt.Sprintf(format, args...))
	}
}

// value returns the given, prompted or default text for name.
func (r *resolver) value(name string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	d, _ := Lookup(name)
	if s, ok := r.raw[name]; ok {
		return strings.TrimSpace(s), true
	}
	if d.Prompted && !r.noPrompt[name] && r.prompter != nil {
		s, err := r.prompter.Ask(d)
		if err != nil {
			if r.err == nil {
				r.err = starlink.Wrap(starlink.KindParameter, err, "%s: prompt failed", name)
			}
			return "", false
		}
		s = strings.TrimSpace(s)
		if s != "" {
			return s, true
		}
	}
	if d.Required {
		r.fail(name, "no value supplied")
		return "", false
	}
	return d.Default, true
}

// text returns a string value; nullable values return "" for Null.
func (r *resolver) text(name string, nullable bool) string {
	s, ok := r.value(name)
	if !ok {
		return ""
	}
	if s == Null {
		if !nullable {
			r.fail(name, "a null value is not allowed")
		}
		return ""
	}
	if s == "" && !nullable {
		r.fail(name, "a value is required")
	}
	return s
}

// optional returns "" for both blank and Null.
func (r *resolver) optional(name string) string {
	s, _ := r.value(name)
	if s == Null {
		return ""
	}
	return s
}

func (r *resolver) choice(name string, options []string, nullable bool) string {
	s := r.text(name, nullable)
	if s == "" {
		return ""
	}
	for _, o := range options {
		if strings.EqualFold(s, o) {
			return o
		}
	}
	r.fail(name, "%q is not one of %s", s, strings.Join(options, ", "))
	return ""
}

func (r *resolver) real(name string, min, max float64) float64 {
	s := r.text(name, false)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(name, "%q is not a number", s)
		return 0
	}
	if f < min || f > max {
		r.fail(name, "%g is outside the range %g to %g", f, min, max)
		return 0
	}
	return f
}

func (r *resolver) logical(name string) bool {
	s := r.text(name, false)
	switch strings.ToUpper(s) {
	case "TRUE", "T", "YES", "Y":
		return true
	case "FALSE", "F", "NO", "N", "":
		return false
	}
	r.fail(name, "%q is not a logical value", s)
	return false
}

func (r *resolver) level(name string) monitoring.Level {
	s := r.text(name, false)
	if s == "" {
		return monitoring.None
	}
	l, err := monitoring.ParseLevel(s)
	if err != nil {
		r.fail(name, "%v", err)
		return monitoring.None
	}
	return l
}
