package testutil

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/banshee-data/pol2cat/internal/fsutil"
)

// Image is the fake's model of an NDF: one value for every pixel, a 1-D
// pixel range and the WCS frame domains present.
type Image struct {
	Value   float64
	Lo, Hi  int
	Domains []string
	// Planes holds the per-plane values of a pasted cube.
	Planes []float64
}

// Call is one command the fake received.
type Call struct {
	Command    string
	Tool       string
	Positional []string
	KV         map[string]string
	// Groups holds the members of every "^list" argument as they were
	// when the call arrived, since the workspace may be gone afterwards.
	Groups map[string][]string
}

// Members returns the images a call argument named. Plain arguments name
// a single image.
func (c Call) Members(arg string) []string {
	if !strings.HasPrefix(arg, "^") {
		return []string{arg}
	}
	return c.Groups[arg]
}

// Observation is one raw sub-scan written by calcqu into its Q and U
// containers.
type Observation struct {
	Stem   string
	Q, U   float64
	Lo, Hi int
}

// FakeStarlink stands in for the Starlink tasks. It implements
// starlink.Runner, tracks images by name and resolves "^list" groups
// through FS.
type FakeStarlink struct {
	FS           fsutil.FileSystem
	Observations []Observation
	// SuffixedPaste makes paste give the cube a "POLANAL-" frame.
	SuffixedPaste bool
	// FailOn makes the named tool report an error.
	FailOn map[string]string

	mu         sync.Mutex
	images     map[string]*Image
	containers map[string][]string
	calls      []Call
}

// NewFakeStarlink creates a fake that reads list files from fs.
func NewFakeStarlink(fs fsutil.FileSystem, obs ...Observation) *FakeStarlink {
	return &FakeStarlink{
		FS:           fs,
		Observations: obs,
		FailOn:       map[string]string{},
		images:       map[string]*Image{},
		containers:   map[string][]string{},
	}
}

// AddImage registers an existing image such as a user-supplied map.
func (f *FakeStarlink) AddImage(name string, img Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := img
	f.images[name] = &cp
}

// Image returns the image called name.
func (f *FakeStarlink) Image(name string) (Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[name]
	if !ok {
		return Image{}, false
	}
	return *img, true
}

// Calls returns the calls made to tool, or every call when tool is empty.
func (f *FakeStarlink) Calls(tool string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if tool == "" || c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

// Tools returns the tool names called, in order.
func (f *FakeStarlink) Tools() []string {
	var out []string
	for _, c := range f.Calls("") {
		out = append(out, c.Tool)
	}
	return out
}

// Expand resolves a group argument into image names.
func (f *FakeStarlink) Expand(arg string) ([]string, error) {
	if !strings.HasPrefix(arg, "^") {
		return []string{arg}, nil
	}
	data, err := f.FS.ReadFile(arg[1:])
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

type taskError struct{ msg string }

func (e taskError) Error() string { return e.msg }

// Run implements starlink.Runner.
func (f *FakeStarlink) Run(ctx context.Context, command string, env []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	words, err := shellquote.Split(command)
	if err != nil || len(words) == 0 {
		return "!! cannot parse command", errors.New("exit status 1")
	}
	call := Call{
		Command: command,
		Tool:    path.Base(words[0]),
		KV:      map[string]string{},
		Groups:  map[string][]string{},
	}
	for _, w := range words[1:] {
		v := w
		if i := strings.Index(w, "="); i > 0 {
			v = w[i+1:]
			call.KV[strings.ToLower(w[:i])] = v
		} else {
			call.Positional = append(call.Positional, w)
		}
		if strings.HasPrefix(v, "^") {
			if names, err := f.Expand(v); err == nil {
				call.Groups[v] = names
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)

	if msg, ok := f.FailOn[call.Tool]; ok {
		return "!! " + msg, errors.New("exit status 1")
	}

	out, err := f.dispatch(call)
	var te taskError
	if errors.As(err, &te) {
		return out + "!! " + te.msg + "\n", errors.New("exit status 1")
	}
	return out, err
}

func (c Call) arg(key string, pos int) string {
	if v, ok := c.KV[key]; ok {
		return v
	}
	if pos >= 0 && pos < len(c.Positional) {
		return c.Positional[pos]
	}
	return ""
}

func (f *FakeStarlink) expandLocked(arg string) ([]string, error) {
	names, err := f.Expand(arg)
	if err != nil {
		return nil, taskError{fmt.Sprintf("cannot read group %s: %v", arg, err)}
	}
	return names, nil
}

func (f *FakeStarlink) inputs(arg string) ([]*Image, []string, error) {
	names, err := f.expandLocked(arg)
	if err != nil {
		return nil, nil, err
	}
	imgs := make([]*Image, len(names))
	for i, n := range names {
		img, ok := f.images[n]
		if !ok {
			return nil, nil, taskError{fmt.Sprintf("NDF %s does not exist", n)}
		}
		imgs[i] = img
	}
	return imgs, names, nil
}

func (f *FakeStarlink) put(name string, img Image) {
	cp := img
	cp.Domains = append([]string(nil), img.Domains...)
	f.images[name] = &cp
}

func (f *FakeStarlink) dispatch(c Call) (string, error) {
	switch c.Tool {
	case "calcqu":
		return "", f.calcqu(c)
	case "ndfecho":
		names, ok := f.containers[c.arg("ndf", 0)]
		if !ok {
			return "", taskError{"no such container " + c.arg("ndf", 0)}
		}
		return strings.Join(names, "\n") + "\n", nil
	case "ffclean", "sqorst":
		return "", f.mapEach(c, "in", "out", func(in *Image) Image { return *in })
	case "wcsframe":
		return "", f.wcsframe(c)
	case "wcsattrib":
		return "", f.wcsattrib(c)
	case "wcsmosaic":
		return "", f.mosaic(c)
	case "normalize":
		// The background fit removes nothing in this model.
		return "", f.mapEach(c, "in2", "out", func(in *Image) Image {
			img := *in
			img.Value = 0
			return img
		})
	case "sub":
		return "", f.sub(c)
	case "wcsalign":
		return "", f.align(c)
	case "maths":
		return "", f.maths(c)
	case "ndfcopy":
		return "", f.ndfcopy(c)
	case "paste":
		return "", f.paste(c)
	case "polext":
		cube, ok := f.images[c.arg("ndf", 0)]
		if !ok {
			return "", taskError{"cube does not exist"}
		}
		if !hasDomain(cube, "POLANAL") {
			return "", taskError{"no POLANAL frame in cube"}
		}
		return "", nil
	case "polvec":
		if _, ok := f.images[c.arg("in", 0)]; !ok {
			return "", taskError{"cube does not exist"}
		}
		return "   42 vectors written to the output catalogue.\n", nil
	case "catselect", "lutable", "display", "polplot":
		return "", nil
	}
	return "", taskError{"unknown command " + c.Tool}
}

func hasDomain(img *Image, domain string) bool {
	for _, d := range img.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

func (f *FakeStarlink) calcqu(c Call) error {
	if len(f.Observations) == 0 {
		return taskError{"no POL-2 data in " + c.KV["in"]}
	}
	for _, side := range []string{"outq", "outu"} {
		cont := c.KV[side]
		if cont == "" {
			return taskError{side + " not given"}
		}
		var names []string
		for _, o := range f.Observations {
			name := cont + "." + o.Stem
			v := o.Q
			if side == "outu" {
				v = o.U
			}
			f.put(name, Image{Value: v, Lo: o.Lo, Hi: o.Hi, Domains: []string{"PIXEL", "SKY", "FPLANE", "POLANAL"}})
			names = append(names, name)
		}
		f.containers[cont] = names
	}
	return nil
}

func (f *FakeStarlink) mapEach(c Call, inKey, outKey string, fn func(*Image) Image) error {
	ins, _, err := f.inputs(c.arg(inKey, 0))
	if err != nil {
		return err
	}
	outs, err := f.expandLocked(c.arg(outKey, 1))
	if err != nil {
		return err
	}
	if len(outs) != len(ins) {
		return taskError{fmt.Sprintf("%d outputs for %d inputs", len(outs), len(ins))}
	}
	for i, in := range ins {
		f.put(outs[i], fn(in))
	}
	return nil
}

func (f *FakeStarlink) wcsframe(c Call) error {
	imgs, _, err := f.inputs(c.arg("ndf", 0))
	if err != nil {
		return err
	}
	frame := strings.ToUpper(c.arg("frame", 1))
	for _, img := range imgs {
		if !hasDomain(img, frame) {
			return taskError{fmt.Sprintf("no frame with domain %s", frame)}
		}
	}
	return nil
}

func (f *FakeStarlink) wcsattrib(c Call) error {
	img, ok := f.images[c.arg("ndf", 0)]
	if !ok {
		return taskError{"NDF does not exist"}
	}
	if len(c.Positional) < 4 || c.Positional[1] != "set" || c.Positional[2] != "domain" {
		return taskError{"unsupported wcsattrib"}
	}
	for i, d := range img.Domains {
		if strings.HasSuffix(d, "-") {
			img.Domains[i] = c.Positional[3]
		}
	}
	return nil
}

func union(imgs []*Image) (lo, hi int) {
	lo, hi = imgs[0].Lo, imgs[0].Hi
	for _, img := range imgs[1:] {
		if img.Lo < lo {
			lo = img.Lo
		}
		if img.Hi > hi {
			hi = img.Hi
		}
	}
	return lo, hi
}

func intersect(imgs []*Image) (lo, hi int) {
	lo, hi = imgs[0].Lo, imgs[0].Hi
	for _, img := range imgs[1:] {
		if img.Lo > lo {
			lo = img.Lo
		}
		if img.Hi < hi {
			hi = img.Hi
		}
	}
	return lo, hi
}

func (f *FakeStarlink) mosaic(c Call) error {
	ins, _, err := f.inputs(c.arg("in", 0))
	if err != nil {
		return err
	}
	if ref := c.KV["ref"]; ref != "" && ref != "!" {
		if _, ok := f.images[ref]; !ok {
			return taskError{"reference " + ref + " does not exist"}
		}
	}
	sum := 0.0
	for _, in := range ins {
		sum += in.Value
	}
	lo, hi := union(ins)
	f.put(c.KV["out"], Image{Value: sum / float64(len(ins)), Lo: lo, Hi: hi, Domains: ins[0].Domains})
	return nil
}

func (f *FakeStarlink) sub(c Call) error {
	a, _, err := f.inputs(c.KV["in1"])
	if err != nil {
		return err
	}
	b, _, err := f.inputs(c.KV["in2"])
	if err != nil {
		return err
	}
	outs, err := f.expandLocked(c.KV["out"])
	if err != nil {
		return err
	}
	if len(a) != len(b) || len(a) != len(outs) {
		return taskError{"group sizes differ"}
	}
	for i := range a {
		img := *a[i]
		img.Value = a[i].Value - b[i].Value
		f.put(outs[i], img)
	}
	return nil
}

func (f *FakeStarlink) align(c Call) error {
	in, _, err := f.inputs(c.KV["in"])
	if err != nil {
		return err
	}
	ref, _, err := f.inputs(c.KV["ref"])
	if err != nil {
		return err
	}
	img := *in[0]
	img.Lo, img.Hi = ref[0].Lo, ref[0].Hi
	f.put(c.KV["out"], img)
	return nil
}

func (f *FakeStarlink) maths(c Call) error {
	vars := map[string]float64{}
	var ins []*Image
	keys := make([]string, 0)
	for k := range c.KV {
		if len(k) == 2 && k[0] == 'i' {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		imgs, _, err := f.inputs(c.KV[k])
		if err != nil {
			return err
		}
		vars[k] = imgs[0].Value
		ins = append(ins, imgs[0])
	}
	if len(ins) == 0 {
		return taskError{"no input images"}
	}
	v, err := EvalMaths(c.KV["exp"], vars)
	if err != nil {
		return taskError{err.Error()}
	}
	lo, hi := intersect(ins)
	f.put(c.KV["out"], Image{Value: v, Lo: lo, Hi: hi, Domains: ins[0].Domains})
	return nil
}

func (f *FakeStarlink) ndfcopy(c Call) error {
	in, _, err := f.inputs(c.arg("in", 0))
	if err != nil {
		return err
	}
	like, _, err := f.inputs(c.KV["like"])
	if err != nil {
		return err
	}
	img := *in[0]
	img.Lo, img.Hi = intersect([]*Image{in[0], like[0]})
	f.put(c.KV["out"], img)
	return nil
}

func (f *FakeStarlink) paste(c Call) error {
	planes, _, err := f.inputs(c.KV["in"])
	if err != nil {
		return err
	}
	cube := Image{Lo: planes[0].Lo, Hi: planes[0].Hi}
	for _, p := range planes {
		if p.Lo != cube.Lo || p.Hi != cube.Hi {
			return taskError{"planes have different bounds"}
		}
		cube.Planes = append(cube.Planes, p.Value)
	}
	polanal := "POLANAL"
	if f.SuffixedPaste {
		polanal = "POLANAL-"
	}
	cube.Domains = []string{"PIXEL", "SKY", "FPLANE", polanal}
	f.put(c.KV["out"], cube)
	return nil
}
