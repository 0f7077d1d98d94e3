package commit

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paramforge/backend"
	"paramforge/blackboard"
	"paramforge/criterion"
	"paramforge/domain"
	"paramforge/ptype"
	"paramforge/rule"
	"paramforge/structure"
	"paramforge/telemetry/logging"
)

type fakeSync struct {
	sent []blackboard.Region
}

func (f *fakeSync) Send(ctx context.Context, region blackboard.Region, data []byte) error {
	f.sent = append(f.sent, region)
	return nil
}

func (f *fakeSync) Receive(ctx context.Context, region blackboard.Region) ([]byte, error) {
	return nil, backend.ErrUnsupported
}

type fakeRegistry struct {
	byName map[string]backend.SyncObject
}

func (r *fakeRegistry) Lookup(name string) (backend.SyncObject, bool) {
	s, ok := r.byName[name]
	return s, ok
}

func buildFixture(t *testing.T) (*structure.Tree, *criterion.Registry, *domain.Domain) {
	t.Helper()
	sb := structure.NewBuilder()
	sub := &structure.Subsystem{Name: "Audio", Endianness: blackboard.Little}
	_, err := sb.AddSubsystem(sub, "Audio", nil, func(root *structure.Instance) []*structure.Instance {
		return []*structure.Instance{{Name: "volume", Type: ptype.IntegerType{SizeBits: 8}}}
	})
	require.NoError(t, err)
	tree := sb.Build()

	criteria := criterion.NewRegistry()
	c, err := criteria.Register("mode", criterion.Exclusive, []criterion.ValueEntry{{Literal: "normal", Numeric: 0}, {Literal: "loud", Numeric: 1}})
	require.NoError(t, err)
	c.SetState(1)

	domains := domain.NewRegistry(tree)
	d, err := domains.CreateDomain("audio-domain", false)
	require.NoError(t, err)
	require.NoError(t, domains.AddConfigurableElement(d, "/Audio/volume"))

	cfg := d.AddConfiguration("loud", &rule.Atomic{Criterion: "mode", Method: rule.Is, Operand: 1})
	cfg.Area["/Audio/volume"] = &domain.ElementArea{Path: "/Audio/volume", Region: []byte{100}}

	return tree, criteria, d
}

func TestCommitSelectsAndSyncs(t *testing.T) {
	tree, criteria, d := buildFixture(t)
	main := blackboard.New(tree.TotalSize())
	sync := &fakeSync{}
	registry := &fakeRegistry{byName: map[string]backend.SyncObject{"Audio": sync}}

	p := &Pipeline{Tree: tree, Criteria: criteria, Domains: []*domain.Domain{d}, Main: main, Backends: registry}
	result, err := p.Commit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "loud", result.Winners["audio-domain"])
	assert.Equal(t, byte(100), main.ReadBytes(0, 1)[0])
	assert.Len(t, sync.sent, 1)
	assert.Empty(t, result.Errors)
}

func TestCommitNoMatchContributesNothing(t *testing.T) {
	tree, criteria, d := buildFixture(t)
	c, err := criteria.Lookup("mode")
	require.NoError(t, err)
	c.SetState(0)

	main := blackboard.New(tree.TotalSize())
	p := &Pipeline{Tree: tree, Criteria: criteria, Domains: []*domain.Domain{d}, Main: main}
	result, err := p.Commit(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Winners)
	assert.Equal(t, byte(0), main.ReadBytes(0, 1)[0])
}

// orderedSync records which subsystem each Send call was for, into a
// list shared across sinks, so a test can assert cross-subsystem call
// order.
type orderedSync struct {
	name  string
	calls *[]string
}

func (s *orderedSync) Send(ctx context.Context, region blackboard.Region, data []byte) error {
	*s.calls = append(*s.calls, s.name)
	return nil
}

func (s *orderedSync) Receive(ctx context.Context, region blackboard.Region) ([]byte, error) {
	return nil, backend.ErrUnsupported
}

func TestCommitSyncsInStructureOrder(t *testing.T) {
	// Subsystem names deliberately reverse-alphabetical: the sync order
	// must follow structure declaration order, nothing else.
	sb := structure.NewBuilder()
	for _, name := range []string{"Zeta", "Alpha"} {
		sub := &structure.Subsystem{Name: name, Endianness: blackboard.Little}
		_, err := sb.AddSubsystem(sub, name, nil, func(root *structure.Instance) []*structure.Instance {
			return []*structure.Instance{{Name: "v", Type: ptype.IntegerType{SizeBits: 8}}}
		})
		require.NoError(t, err)
	}
	tree := sb.Build()

	domains := domain.NewRegistry(tree)
	var list []*domain.Domain
	for _, name := range []string{"Zeta", "Alpha"} {
		d, err := domains.CreateDomain(name+"-domain", false)
		require.NoError(t, err)
		require.NoError(t, domains.AddConfigurableElement(d, "/"+name+"/v"))
		cfg := d.AddConfiguration("on", &rule.Composite{Op: rule.All})
		cfg.Area["/"+name+"/v"] = &domain.ElementArea{Path: "/" + name + "/v", Region: []byte{9}}
		list = append(list, d)
	}

	var calls []string
	registry := &fakeRegistry{byName: map[string]backend.SyncObject{
		"Zeta":  &orderedSync{name: "Zeta", calls: &calls},
		"Alpha": &orderedSync{name: "Alpha", calls: &calls},
	}}

	main := blackboard.New(tree.TotalSize())
	p := &Pipeline{Tree: tree, Criteria: criterion.NewRegistry(), Domains: list, Main: main, Backends: registry}
	_, err := p.Commit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Zeta", "Alpha"}, calls)
}

func TestCommitGrowsDirtyRegionsToLeafFootprints(t *testing.T) {
	sb := structure.NewBuilder()
	sub := &structure.Subsystem{Name: "Audio", Endianness: blackboard.Little}
	_, err := sb.AddSubsystem(sub, "Audio", nil, func(root *structure.Instance) []*structure.Instance {
		return []*structure.Instance{{Name: "wide", Type: ptype.IntegerType{SizeBits: 16}}}
	})
	require.NoError(t, err)
	tree := sb.Build()

	domains := domain.NewRegistry(tree)
	d, err := domains.CreateDomain("audio-domain", false)
	require.NoError(t, err)
	require.NoError(t, domains.AddConfigurableElement(d, "/Audio/wide"))
	cfg := d.AddConfiguration("on", &rule.Composite{Op: rule.All})
	// Only the high byte differs from the zeroed main blackboard; the
	// synced region must still cover the whole 16-bit parameter.
	cfg.Area["/Audio/wide"] = &domain.ElementArea{Path: "/Audio/wide", Region: []byte{0x00, 0x01}}

	main := blackboard.New(tree.TotalSize())
	sync := &fakeSync{}
	registry := &fakeRegistry{byName: map[string]backend.SyncObject{"Audio": sync}}
	p := &Pipeline{Tree: tree, Criteria: criterion.NewRegistry(), Domains: []*domain.Domain{d}, Main: main, Backends: registry}
	result, err := p.Commit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []blackboard.Region{{Offset: 0, Size: 2}}, result.DirtyRegions["Audio"])
	require.Len(t, sync.sent, 1)
	assert.Equal(t, blackboard.Region{Offset: 0, Size: 2}, sync.sent[0])
}

func TestCommitWarnsOnMultiplyModifiedCriterion(t *testing.T) {
	tree, criteria, d := buildFixture(t)
	flappy, err := criteria.Register("link", criterion.Exclusive, []criterion.ValueEntry{{Literal: "down", Numeric: 0}, {Literal: "up", Numeric: 1}})
	require.NoError(t, err)
	flappy.SetState(1)
	flappy.SetState(0)
	flappy.SetState(1)

	var buf bytes.Buffer
	logger := logging.New(&buf, "test")

	main := blackboard.New(tree.TotalSize())
	p := &Pipeline{Tree: tree, Criteria: criteria, Domains: []*domain.Domain{d}, Main: main, Logger: logger}
	_, err = p.Commit(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "criterion changed multiple times between commits")
	assert.Contains(t, buf.String(), `"criterion":"link"`)

	got, err := criteria.Lookup("link")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got.Modified)
}
