package analyzer

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweave/internal/analyzer/fixture"
	"taskweave/internal/core"
)

// --- task definitions the tests analyze; analysis parses this very file ---

type Download struct {
	core.Base
	Data string `export:"data"`
}

func (d *Download) Run(tc *core.Context) error {
	d.Data = "payload"
	return nil
}

type Unpack struct {
	core.Base
	Dir string `export:"dir"`
}

func (u *Unpack) Run(tc *core.Context) error {
	v, err := tc.Need(&Download{}, "data")
	if err != nil {
		return err
	}
	u.Dir = v.(string)
	return nil
}

type Verify struct {
	core.Base
	OK bool `export:"ok"`
}

// Verify reaches Download only through a receiver-local helper chain.
func (v *Verify) Run(tc *core.Context) error {
	return v.check(tc)
}

func (v *Verify) check(tc *core.Context) error {
	return v.fetch(tc)
}

func (v *Verify) fetch(tc *core.Context) error {
	_, err := tc.Need(&Download{}, "data")
	v.OK = err == nil
	return err
}

type Bridge struct {
	core.Base
	Total int `export:"total"`
}

// Bridge references a task in a foreign package via a dotted path.
func (b *Bridge) Run(tc *core.Context) error {
	v, err := tc.Need(&fixture.Remote{}, "value")
	if err != nil {
		return err
	}
	b.Total = v.(int)
	return nil
}

// notATaskHelper is deliberately not registered as a task.
type notATaskHelper struct{}

func (notATaskHelper) Describe() string { return "helper" }

type Opaque struct {
	core.Base
	Out string `export:"out"`
}

// Opaque calls through an explicit non-receiver value; references inside
// such calls are not followed, and notATaskHelper resolves to nothing.
func (o *Opaque) Run(tc *core.Context) error {
	h := notATaskHelper{}
	o.Out = h.Describe()
	return nil
}

type Selfish struct {
	core.Base
}

// Selfish references its own type, a self-loop for the graph to reject.
func (s *Selfish) Run(tc *core.Context) error {
	_, err := tc.Need(&Selfish{}, "x")
	return err
}

type Choose struct {
	core.SectionBase
}

func (c *Choose) Impl(args core.Args) core.Task {
	if args.Bool("alt", false) {
		return &Unpack{}
	}
	return &Download{}
}

// --- resolver double ---

type tableResolver struct {
	byQualified map[string]*core.Descriptor
	byShort     map[string][]*core.Descriptor
}

func newTableResolver(t *testing.T, protos ...core.Task) *tableResolver {
	t.Helper()
	r := &tableResolver{
		byQualified: map[string]*core.Descriptor{},
		byShort:     map[string][]*core.Descriptor{},
	}
	for _, p := range protos {
		d, err := core.Describe(p)
		require.NoError(t, err)
		r.byQualified[d.QualifiedName()] = d
		r.byShort[d.Name] = append(r.byShort[d.Name], d)
	}
	return r
}

func (r *tableResolver) Lookup(q string) (*core.Descriptor, bool) {
	d, ok := r.byQualified[q]
	return d, ok
}

func (r *tableResolver) LookupShort(name string) (*core.Descriptor, bool) {
	if ds := r.byShort[name]; len(ds) == 1 {
		return ds[0], true
	}
	return nil, false
}

func depNames(deps []*core.Descriptor) []string {
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.Name
	}
	return out
}

// --- tests ---

func TestDependencies_BareReference(t *testing.T) {
	r := newTableResolver(t, &Download{}, &Unpack{}, &Verify{})
	a := New(r, hclog.NewNullLogger(), false)

	d, _ := r.LookupShort("Unpack")
	deps, err := a.Dependencies(d)
	require.NoError(t, err)
	assert.Equal(t, []string{"Download"}, depNames(deps))
}

func TestDependencies_HelperFixedPoint(t *testing.T) {
	r := newTableResolver(t, &Download{}, &Verify{})
	a := New(r, hclog.NewNullLogger(), false)

	d, _ := r.LookupShort("Verify")
	deps, err := a.Dependencies(d)
	require.NoError(t, err)
	assert.Equal(t, []string{"Download"}, depNames(deps))
}

func TestDependencies_DottedPath(t *testing.T) {
	r := newTableResolver(t, &fixture.Remote{}, &Bridge{})
	a := New(r, hclog.NewNullLogger(), false)

	d, _ := r.LookupShort("Bridge")
	deps, err := a.Dependencies(d)
	require.NoError(t, err)
	assert.Equal(t, []string{"Remote"}, depNames(deps))
}

func TestDependencies_ExplicitReceiverNotFollowed(t *testing.T) {
	r := newTableResolver(t, &Download{}, &Opaque{})
	a := New(r, hclog.NewNullLogger(), false)

	d, _ := r.LookupShort("Opaque")
	deps, err := a.Dependencies(d)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestDependencies_SelfReferenceAdmitted(t *testing.T) {
	// Circular references are allowed here; detection is the graph's job.
	r := newTableResolver(t, &Selfish{})
	a := New(r, hclog.NewNullLogger(), false)

	d, _ := r.LookupShort("Selfish")
	deps, err := a.Dependencies(d)
	require.NoError(t, err)
	assert.Equal(t, []string{"Selfish"}, depNames(deps))
}

func TestDependencies_SectionImplCandidates(t *testing.T) {
	r := newTableResolver(t, &Download{}, &Unpack{}, &Choose{})
	a := New(r, hclog.NewNullLogger(), false)

	d, _ := r.LookupShort("Choose")
	deps, err := a.Dependencies(d)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Download", "Unpack"}, depNames(deps))
}

func TestDependencies_NoBodyMeansNoDeps(t *testing.T) {
	type bodyless struct{ core.Base }
	d, err := core.Describe(&bodyless{})
	require.NoError(t, err)

	a := New(newTableResolver(t), hclog.NewNullLogger(), false)
	deps, err := a.Dependencies(d)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestDependencies_Deterministic(t *testing.T) {
	r := newTableResolver(t, &Download{}, &Unpack{}, &Verify{}, &Bridge{}, &fixture.Remote{})

	a1 := New(r, hclog.NewNullLogger(), false)
	a2 := New(r, hclog.NewNullLogger(), false)

	for _, name := range []string{"Unpack", "Verify", "Bridge"} {
		d, _ := r.LookupShort(name)
		d1, err := a1.Dependencies(d)
		require.NoError(t, err)
		d2, err := a2.Dependencies(d)
		require.NoError(t, err)
		assert.Equal(t, depNames(d1), depNames(d2), name)
	}
}

func TestDependencies_CachedAndInvalidatable(t *testing.T) {
	r := newTableResolver(t, &Download{}, &Unpack{})
	a := New(r, hclog.NewNullLogger(), false)

	d, _ := r.LookupShort("Unpack")
	first, err := a.Dependencies(d)
	require.NoError(t, err)

	again, err := a.Dependencies(d)
	require.NoError(t, err)
	assert.Equal(t, depNames(first), depNames(again))

	a.Invalidate(d.QualifiedName())
	after, err := a.Dependencies(d)
	require.NoError(t, err)
	assert.Equal(t, depNames(first), depNames(after))
}

func TestDependencies_DegradesOnBadLocation(t *testing.T) {
	broken := &core.Descriptor{Name: "Ghost", PkgPath: "nowhere", RunPC: 1, HasRun: true}

	lenient := New(newTableResolver(t), hclog.NewNullLogger(), false)
	deps, err := lenient.Dependencies(broken)
	require.NoError(t, err)
	assert.Empty(t, deps)

	strict := New(newTableResolver(t), hclog.NewNullLogger(), true)
	strict.InvalidateAll()
	_, err = strict.Dependencies(broken)
	require.Error(t, err)
	var build *core.BuildError
	assert.ErrorAs(t, err, &build)
}
