// Package pipeline runs the fixed sequence of Starlink tasks that turns
// POL-2 time series into a vector catalogue.
package pipeline

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/banshee-data/pol2cat/internal/config"
	"github.com/banshee-data/pol2cat/internal/monitoring"
	"github.com/banshee-data/pol2cat/internal/ndg"
	"github.com/banshee-data/pol2cat/internal/params"
	"github.com/banshee-data/pol2cat/internal/shell"
	"github.com/banshee-data/pol2cat/internal/starlink"
)

// Logger receives pipeline messages. *monitoring.Reporter satisfies it.
type Logger interface {
	Criticalf(format string, args ...interface{})
	Progressf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Driver holds everything one run needs.
type Driver struct {
	Params  *params.Values
	Config  *config.PipelineConfig
	Invoker *starlink.Invoker
	Host    ndg.Host
	Log     Logger
	// DryRun is set when commands are printed rather than run. Container
	// listings are then assumed to hold one image per sub-array so that
	// the whole command sequence is shown.
	DryRun bool
}

// Result describes the products of a completed run.
type Result struct {
	Catalogue string
	PIMap     string
	// Subarrays lists the sub-arrays that contributed data, in order.
	Subarrays []string
	// Workspace is the temporary directory; it survives only when Retained.
	Workspace string
	Retained  bool
	// PolvecReport is the text polvec printed.
	PolvecReport string
	// SelectedCatalogue is the catselect output when a plot was made.
	SelectedCatalogue string
}

// referenceGrid is the pixel grid every mosaic is resampled onto. It is
// chosen once, from the first sub-array with data.
type referenceGrid struct {
	established bool
	grid        *ndg.Group
}

type run struct {
	*Driver
	ws   *ndg.Workspace
	ref  referenceGrid
	iref *ndg.Group // user-supplied total intensity map, nil when null

	box     int
	clip    string
	method  string
	ndevice string

	qmos, umos []*ndg.Group
	subarrays  []string
}

// Run executes the pipeline. The workspace is removed on every return
// path unless RETAIN was set.
func (d *Driver) Run(ctx context.Context) (res *Result, err error) {
	d.defaults()
	ws, err := ndg.Open(ctx, d.Host, d.Params.Retain, d.Log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	d.Invoker.ADAMUser = ws.ADAMDir

	r := &run{
		Driver:  d,
		ws:      ws,
		box:     d.Config.GetFFCleanBox(),
		clip:    clipList(d.Config.GetFFCleanClip()),
		method:  d.Config.GetMosaicMethod(),
		ndevice: normaliseDevice(d.Params),
	}
	if d.Params.IRef != "" {
		if r.iref, err = ws.FromList(ctx, "iref", []string{d.Params.IRef}); err != nil {
			return nil, err
		}
	}

	res = &Result{
		Catalogue: d.Params.Cat,
		PIMap:     d.Params.PI,
		Workspace: ws.Dir,
		Retained:  d.Params.Retain,
	}
	if err := r.execute(ctx, res); err != nil {
		return nil, err
	}
	res.Subarrays = r.subarrays
	return res, nil
}

func (d *Driver) defaults() {
	if d.Config == nil {
		d.Config = config.EmptyPipelineConfig()
	}
	if d.Log == nil {
		d.Log = monitoring.NewReporter(nil, monitoring.None, monitoring.None)
	}
}

func (r *run) invoke(ctx context.Context, format string, args ...interface{}) (string, error) {
	return r.Invoker.Invoke(ctx, format, args...)
}

func (r *run) execute(ctx context.Context, res *Result) error {
	qff, uff, err := r.calcQU(ctx)
	if err != nil {
		return err
	}

	for _, a := range r.Config.GetSubarrays() {
		if err := r.subarray(ctx, a, qff, uff); err != nil {
			return err
		}
	}

	qtotal, utotal, err := r.combineSubarrays(ctx)
	if err != nil {
		return err
	}

	iref, err := r.totalIntensity(ctx, qtotal, utotal)
	if err != nil {
		return err
	}

	cube, err := r.buildCube(ctx, qtotal, utotal, iref)
	if err != nil {
		return err
	}

	if res.PolvecReport, err = r.extractVectors(ctx, cube); err != nil {
		return err
	}

	if r.Params.Plot != "" {
		if res.SelectedCatalogue, err = r.plot(ctx, cube); err != nil {
			return err
		}
	}
	return nil
}

// calcQU forms the Q and U images of every sub-scan and removes spikes.
func (r *run) calcQU(ctx context.Context) (qff, uff *ndg.Group, err error) {
	qcont := r.ws.Empty("qcont")
	ucont := r.ws.Empty("ucont")

	r.Log.Progressf("Calculating Q and U values for each bolometer...")
	if _, err := r.invoke(ctx, "$SMURF_DIR/calcqu in=%s config=%s outq=%s outu=%s fix",
		shell.Quote(r.Params.In), shell.Quote(r.Params.Config), qcont, ucont); err != nil {
		return nil, nil, err
	}

	qraw, err := r.containerMembers(ctx, qcont)
	if err != nil {
		return nil, nil, err
	}
	uraw, err := r.containerMembers(ctx, ucont)
	if err != nil {
		return nil, nil, err
	}

	r.Log.Progressf("Removing spikes from bolometer Q and U values...")
	if qff, err = r.ffclean(ctx, "qff", qraw); err != nil {
		return nil, nil, err
	}
	if uff, err = r.ffclean(ctx, "uff", uraw); err != nil {
		return nil, nil, err
	}
	return qff, uff, nil
}

// containerMembers lists the images calcqu wrote into a container file.
func (r *run) containerMembers(ctx context.Context, cont *ndg.Group) (*ndg.Group, error) {
	out, err := r.invoke(ctx, "$KAPPA_DIR/ndfecho ndf=%s abspath", cont)
	if err != nil {
		return nil, err
	}
	var names []string
	if r.DryRun {
		for _, a := range r.Config.GetSubarrays() {
			names = append(names, cont.String()+"."+strings.ToLower(a))
		}
		return r.ws.FromList(ctx, cont.Comment, names)
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "!") {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, starlink.Errorf(starlink.KindAtask, "calcqu wrote no images to %s", cont)
	}
	return r.ws.FromList(ctx, cont.Comment, names)
}

// ffclean removes spikes from every member of in.
func (r *run) ffclean(ctx context.Context, comment string, in *ndg.Group) (*ndg.Group, error) {
	out, err := r.ws.Like(ctx, comment, in)
	if err != nil {
		return nil, err
	}
	_, err = r.invoke(ctx, "$KAPPA_DIR/ffclean in=%s out=%s box=%d clip=%s", in, out, r.box, r.clip)
	return out, err
}

// subarray removes the bolometer bias from the images of one sub-array
// and mosaics them onto the reference grid.
func (r *run) subarray(ctx context.Context, a string, qff, uff *ndg.Group) error {
	qarray, err := r.ws.Filter(ctx, qff, a)
	if err != nil {
		return err
	}
	if qarray.Len() == 0 {
		r.Log.Debugf("No Q data for sub-array %s", a)
		return nil
	}
	uarray, err := r.ws.Filter(ctx, uff, a)
	if err != nil {
		return err
	}
	if uarray.Len() == 0 {
		r.Log.Criticalf("WARNING: sub-array %s has Q data but no U data; skipping it", a)
		return nil
	}

	qffb, err := r.removeBackground(ctx, "q", a, qarray)
	if err != nil {
		return err
	}
	uffb, err := r.removeBackground(ctx, "u", a, uarray)
	if err != nil {
		return err
	}

	for _, g := range []*ndg.Group{qffb, uffb} {
		if _, err := r.invoke(ctx, "$KAPPA_DIR/wcsframe ndf=%s frame=%s", g, r.Params.Domain); err != nil {
			return err
		}
	}

	if !r.ref.established {
		if err := r.establishReference(ctx, qffb); err != nil {
			return err
		}
	}

	r.Log.Progressf("Combining all Q images for %s into a single map...", a)
	qmos := r.ws.Empty("qmos_" + strings.ToLower(a))
	if _, err := r.invoke(ctx, "$KAPPA_DIR/wcsmosaic method=%s in=%s ref=%s out=%s genvar=yes accept",
		r.method, qffb, r.ref.grid, qmos); err != nil {
		return err
	}

	r.Log.Progressf("Combining all U images for %s into a single map...", a)
	umos := r.ws.Empty("umos_" + strings.ToLower(a))
	if _, err := r.invoke(ctx, "$KAPPA_DIR/wcsmosaic method=%s in=%s ref=%s out=%s genvar=yes accept",
		r.method, uffb, r.ref.grid, umos); err != nil {
		return err
	}

	r.qmos = append(r.qmos, qmos)
	r.umos = append(r.umos, umos)
	r.subarrays = append(r.subarrays, a)
	return nil
}

// removeBackground subtracts the fitted mean bolometer level from each
// image and removes the spikes that become visible.
func (r *run) removeBackground(ctx context.Context, stokes, a string, array *ndg.Group) (*ndg.Group, error) {
	r.Log.Progressf("Removing background %s level from %s bolometers...", strings.ToUpper(stokes), a)

	if _, err := r.invoke(ctx, "$KAPPA_DIR/wcsframe %s PIXEL", array); err != nil {
		return nil, err
	}
	com := r.ws.Empty(stokes + "com")
	if _, err := r.invoke(ctx, "$KAPPA_DIR/wcsmosaic %s ref=! out=%s accept", array, com); err != nil {
		return nil, err
	}

	nm, err := r.ws.Like(ctx, stokes+"nm", array)
	if err != nil {
		return nil, err
	}
	if _, err := r.invoke(ctx, "$KAPPA_DIR/normalize in1=%s in2=%s out=%s device=%s",
		com, array, nm, r.ndevice); err != nil {
		return nil, err
	}

	sub, err := r.ws.Like(ctx, stokes+"sub", array)
	if err != nil {
		return nil, err
	}
	if _, err := r.invoke(ctx, "$KAPPA_DIR/sub in1=%s in2=%s out=%s", array, nm, sub); err != nil {
		return nil, err
	}

	return r.ffclean(ctx, stokes+"ffb", sub)
}

// establishReference chooses the output pixel grid. The first cleaned Q
// image carries the POLANAL frame calcqu attached, so it is the starting
// point; it is then resampled onto IREF and rescaled to PIXSIZE as
// requested.
func (r *run) establishReference(ctx context.Context, qffb *ndg.Group) error {
	r.Log.Progressf("Creating reference map...")
	ref := qffb.Item(0)

	if r.iref != nil {
		tmp := r.ws.Empty("refalign")
		if _, err := r.invoke(ctx, "$KAPPA_DIR/wcsalign in=%s out=%s ref=%s method=near lbnd=!",
			ref, tmp, r.iref); err != nil {
			return err
		}
		ref = tmp
	}

	if r.Params.PixSize != nil {
		p := formatNumber(r.Params.PixSizeArcsec())
		tmp := r.ws.Empty("refscale")
		if _, err := r.invoke(ctx, `$KAPPA_DIR/sqorst in=%s out=%s mode=pixelscale pixscale=\'%s,%s\'`,
			ref, tmp, p, p); err != nil {
			return err
		}
		ref = tmp
	}

	r.ref = referenceGrid{established: true, grid: ref}
	return nil
}

// combineSubarrays mosaics the per-sub-array maps into total Q and U maps.
func (r *run) combineSubarrays(ctx context.Context) (qtotal, utotal *ndg.Group, err error) {
	if len(r.qmos) == 0 {
		return nil, nil, starlink.Errorf(starlink.KindParameter, "No POL-2 data found for any sub-array in %s", r.Params.In)
	}

	r.Log.Progressf("Combining all Q and U images for all sub-arrays...")
	qtotal, err = r.mosaicAll(ctx, "qmos_all", "qtotal", r.qmos)
	if err != nil {
		return nil, nil, err
	}
	utotal, err = r.mosaicAll(ctx, "umos_all", "utotal", r.umos)
	if err != nil {
		return nil, nil, err
	}
	return qtotal, utotal, nil
}

func (r *run) mosaicAll(ctx context.Context, listComment, outComment string, maps []*ndg.Group) (*ndg.Group, error) {
	all, err := r.ws.Combine(ctx, listComment, maps...)
	if err != nil {
		return nil, err
	}
	total := r.ws.Empty(outComment)
	_, err = r.invoke(ctx, "$KAPPA_DIR/wcsmosaic method=%s in=%s ref=%s out=%s lbnd=!",
		r.method, all, r.ref.grid, total)
	return total, err
}

// totalIntensity returns the I map used to normalise Q and U. Without
// IREF it is the polarised intensity, so percentage polarisation is 100%.
func (r *run) totalIntensity(ctx context.Context, qtotal, utotal *ndg.Group) (*ndg.Group, error) {
	switch {
	case r.iref == nil:
		r.Log.Progressf("Generating an artificial total intensity image...")
		iref := r.ws.Empty("iref")
		_, err := r.invoke(ctx, "$KAPPA_DIR/maths exp='sqrt(ia**2+ib**2)' ia=%s ib=%s out=%s", qtotal, utotal, iref)
		return iref, err
	case r.Params.PixSize != nil:
		tmp := r.ws.Empty("irefalign")
		_, err := r.invoke(ctx, "$KAPPA_DIR/wcsalign in=%s out=%s ref=%s method=bilin lbnd=!", r.iref, tmp, r.ref.grid)
		return tmp, err
	default:
		return r.iref, nil
	}
}

// buildCube trims Q, U and I to their common overlap and stacks them into
// a cube with a POLANAL frame and Q,U,I plane order.
func (r *run) buildCube(ctx context.Context, qtotal, utotal, iref *ndg.Group) (*ndg.Group, error) {
	mask := r.ws.Empty("overlap")
	if _, err := r.invoke(ctx, "$KAPPA_DIR/maths exp='ia+ib+ic' ia=%s ib=%s ic=%s out=%s",
		qtotal, utotal, iref, mask); err != nil {
		return nil, err
	}

	trims := make([]*ndg.Group, 0, 3)
	for _, in := range []struct {
		comment string
		g       *ndg.Group
	}{{"qtrim", qtotal}, {"utrim", utotal}, {"itrim", iref}} {
		out := r.ws.Empty(in.comment)
		if _, err := r.invoke(ctx, "$KAPPA_DIR/ndfcopy %s like=%s out=%s", in.g, mask, out); err != nil {
			return nil, err
		}
		trims = append(trims, out)
	}

	planes, err := r.ws.Combine(ctx, "planes", trims...)
	if err != nil {
		return nil, err
	}
	cube := r.ws.Empty("cube")
	if _, err := r.invoke(ctx, `$KAPPA_DIR/paste in=%s shift=\[0,0,1\] out=%s`, planes, cube); err != nil {
		return nil, err
	}

	if err := r.ensurePolanal(ctx, cube); err != nil {
		return nil, err
	}
	if _, err := r.invoke(ctx, "$KAPPA_DIR/wcsframe %s %s", cube, r.Params.Domain); err != nil {
		return nil, err
	}
	if _, err := r.invoke(ctx, "$POLPACK_DIR/polext %s stokes=qui", cube); err != nil {
		return nil, err
	}
	return cube, nil
}

// ensurePolanal makes POLANAL the current frame of cube. Paste appends
// "-" to the domain of frames it extends with the new axis, so a missing
// POLANAL frame is looked for as "POLANAL-" and renamed.
func (r *run) ensurePolanal(ctx context.Context, cube *ndg.Group) error {
	_, err := r.invoke(ctx, "$KAPPA_DIR/wcsframe %s POLANAL", cube)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || !starlink.IsKind(err, starlink.KindAtask) {
		return err
	}
	r.Log.Debugf("No POLANAL frame in %s; looking for POLANAL-", cube)
	if _, err := r.invoke(ctx, "$KAPPA_DIR/wcsframe %s POLANAL-", cube); err != nil {
		return err
	}
	_, err = r.invoke(ctx, "$KAPPA_DIR/wcsattrib %s set domain POLANAL", cube)
	return err
}

// extractVectors writes the output catalogue and optional PI map.
func (r *run) extractVectors(ctx context.Context, cube *ndg.Group) (string, error) {
	command := fmt.Sprintf("$POLPACK_DIR/polvec %s cat=%s", cube, shell.Quote(r.Params.Cat))
	if r.Params.PI != "" {
		command = fmt.Sprintf("%s ip=%s", command, shell.Quote(r.Params.PI))
		r.Log.Progressf("Creating the output catalogue %s and polarised intensity map %s...", r.Params.Cat, r.Params.PI)
	} else {
		r.Log.Progressf("Creating the output catalogue: %s...", r.Params.Cat)
	}
	msg, err := r.invoke(ctx, "%s", command)
	if err != nil {
		return "", err
	}
	r.Log.Progressf("\n%s\n", msg)
	return msg, nil
}

// plot selects vectors with enough signal and draws them, over the IREF
// image when one was given.
func (r *run) plot(ctx context.Context, cube *ndg.Group) (string, error) {
	p := r.Params
	r.Log.Progressf("Plotting the '%s' vectors ...", p.Plot)

	selcat := path.Join(r.ws.Dir, "selcat")
	if _, err := r.invoke(ctx, "$CURSA_DIR/catselect catin=%s catout=%s norejcat seltyp=e expr='%s'",
		shell.Quote(p.Cat), selcat, SelectionExpr(p)); err != nil {
		return "", err
	}

	device := plotDevice(p.Device)
	// A synthesised I map is just PI, so only a real IREF is worth drawing under the vectors.
	if r.iref != nil {
		if _, err := r.invoke(ctx, "$KAPPA_DIR/lutable mapping=linear coltab=grey%s", device); err != nil {
			return "", err
		}
		if _, err := r.invoke(ctx, `$KAPPA_DIR/display %s'(,,3)' mode=perc percentiles=\[1,99\] badcol=black%s`, cube, device); err != nil {
			return "", err
		}
		if _, err := r.invoke(ctx, "$POLPACK_DIR/polplot %s clear=no axes=no colmag=%s key=yes style='colour=red'%s",
			selcat, p.Plot, device); err != nil {
			return "", err
		}
		return selcat, nil
	}

	if _, err := r.invoke(ctx, "$POLPACK_DIR/polplot %s colmag=%s key=yes style=def%s", selcat, p.Plot, device); err != nil {
		return "", err
	}
	return selcat, nil
}

// SelectionExpr is the catselect expression choosing the plotted vectors.
func SelectionExpr(p *params.Values) string {
	exp := fmt.Sprintf("pi>%s*dpi", formatNumber(p.SNR))
	if p.MaxLen != nil {
		exp += fmt.Sprintf("&%s<%s", strings.ToLower(p.Plot), formatNumber(*p.MaxLen))
	}
	return exp
}

// normaliseDevice is the device for the normalize scatter plots, which are
// only wanted when debugging.
func normaliseDevice(p *params.Values) string {
	if p.Device != "" && (p.ILevel >= monitoring.Debug || p.GLevel >= monitoring.Debug) {
		return shell.Quote(p.Device)
	}
	return "!"
}

// plotDevice is the device argument for plotting tasks; blank leaves the
// current graphics device in use.
func plotDevice(device string) string {
	if device == "" {
		return ""
	}
	return " device=" + shell.Quote(device)
}

func clipList(clip []float64) string {
	parts := make([]string, len(clip))
	for i, c := range clip {
		parts[i] = formatNumber(c)
	}
	return `\[` + strings.Join(parts, ",") + `\]`
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
