package ndg

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/banshee-data/pol2cat/internal/starlink"
)

// Group names one or more images. A group with several members is passed
// to tasks as a "^file" indirection list written into the workspace.
type Group struct {
	Comment string

	members []string
	// stems are the source names members were derived from, such as
	// "s8a20121010_00012_0003"; they carry the sub-array identifier.
	stems    []string
	listFile string
}

// stem strips the directory, any ".sdf" extension and any HDS container
// prefix from an image name: "/tmp/p/qcont_1.s8a2012" gives "s8a2012".
func stem(name string) string {
	base := strings.TrimSuffix(path.Base(name), ".sdf")
	if i := strings.LastIndex(base, "."); i >= 0 && i < len(base)-1 {
		base = base[i+1:]
	}
	return base
}

// Empty returns a group with one new, not yet existing image.
func (w *Workspace) Empty(comment string) *Group {
	n := w.next()
	name := fmt.Sprintf("%s_%d", comment, n)
	return &Group{
		Comment: comment,
		members: []string{path.Join(w.Dir, name)},
		stems:   []string{name},
	}
}

// Like returns a group with one new image for each member of tmpl. New
// members keep the stem of the matching template member.
func (w *Workspace) Like(ctx context.Context, comment string, tmpl *Group) (*Group, error) {
	g := &Group{Comment: comment}
	for _, s := range tmpl.stems {
		g.members = append(g.members, path.Join(w.Dir, comment+"_"+s))
		g.stems = append(g.stems, s)
	}
	return g, w.writeList(ctx, g)
}

// FromList wraps existing images, such as the members of a container
// reported by ndfecho or a user-supplied map.
func (w *Workspace) FromList(ctx context.Context, comment string, names []string) (*Group, error) {
	g := &Group{Comment: comment}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		g.members = append(g.members, n)
		g.stems = append(g.stems, stem(n))
	}
	return g, w.writeList(ctx, g)
}

// Combine concatenates the members of groups, in order.
func (w *Workspace) Combine(ctx context.Context, comment string, groups ...*Group) (*Group, error) {
	g := &Group{Comment: comment}
	for _, src := range groups {
		g.members = append(g.members, src.members...)
		g.stems = append(g.stems, src.stems...)
	}
	return g, w.writeList(ctx, g)
}

// Filter returns the members whose stem contains sub, ignoring case. The
// result is empty when nothing matches.
func (w *Workspace) Filter(ctx context.Context, g *Group, sub string) (*Group, error) {
	out := &Group{Comment: g.Comment + "_" + strings.ToLower(sub)}
	needle := strings.ToLower(sub)
	for i, s := range g.stems {
		if strings.Contains(strings.ToLower(s), needle) {
			out.members = append(out.members, g.members[i])
			out.stems = append(out.stems, s)
		}
	}
	return out, w.writeList(ctx, out)
}

// writeList writes the indirection file for groups with several members.
func (w *Workspace) writeList(ctx context.Context, g *Group) error {
	if len(g.members) < 2 {
		return nil
	}
	g.listFile = path.Join(w.Dir, fmt.Sprintf("%s_%d.lis", g.Comment, w.next()))
	data := []byte(strings.Join(g.members, "\n") + "\n")
	if err := w.host.WriteFile(ctx, g.listFile, data); err != nil {
		return starlink.Wrap(starlink.KindWorkspace, err, "cannot write group list %s", g.listFile)
	}
	w.logger.Debugf("group %s: %d members in %s", g.Comment, len(g.members), g.listFile)
	return nil
}

// Len returns the number of members.
func (g *Group) Len() int { return len(g.members) }

// Members returns a copy of the member names.
func (g *Group) Members() []string { return append([]string(nil), g.members...) }

// Stems returns a copy of the member stems.
func (g *Group) Stems() []string { return append([]string(nil), g.stems...) }

// Item returns a single-member group holding member i.
func (g *Group) Item(i int) *Group {
	return &Group{
		Comment: g.Comment,
		members: []string{g.members[i]},
		stems:   []string{g.stems[i]},
	}
}

// String returns the text to put on a command line: the image name for a
// single member, "^list" otherwise.
func (g *Group) String() string {
	switch {
	case g == nil || len(g.members) == 0:
		return "!"
	case len(g.members) == 1:
		return g.members[0]
	default:
		return "^" + g.listFile
	}
}
