package engine

import (
	"context"
	"strings"
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
)

type fakeSync struct {
	sent []blackboard.Region
	data [][]byte
	recv []byte // back-sync payload; nil means write-only
}

func (f *fakeSync) Send(ctx context.Context, region blackboard.Region, data []byte) error {
	f.sent = append(f.sent, region)
	f.data = append(f.data, append([]byte(nil), data...))
	return nil
}

func (f *fakeSync) Receive(ctx context.Context, region blackboard.Region) ([]byte, error) {
	if f.recv == nil {
		return nil, backend.ErrUnsupported
	}
	return f.recv, nil
}

type fakeBackend struct {
	endian blackboard.Endianness
	sync   *fakeSync
}

func (b *fakeBackend) Endianness() blackboard.Endianness { return b.endian }
func (b *fakeBackend) MappingKeys() []string              { return nil }
func (b *fakeBackend) Instantiate(desc backend.InstanceDescriptor, mapping map[string]string) (backend.SyncObject, error) {
	return b.sync, nil
}

func buildFixture(t *testing.T) (*Engine, *fakeSync) {
	t.Helper()
	sb := structure.NewBuilder()
	sub := &structure.Subsystem{Name: "Audio", Type: "fake", Endianness: blackboard.Little}
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

	sync := &fakeSync{}
	backends := backend.NewRegistry()
	backends.Register("fake", func() backend.Backend { return &fakeBackend{endian: blackboard.Little, sync: sync} })

	e := New(tree, criteria, domains, backends, Options{AllowTuning: true})
	require.NoError(t, e.Start(context.Background()))
	return e, sync
}

func TestApplyConfigurationsCommitsAndSyncs(t *testing.T) {
	e, sync := buildFixture(t)
	result, err := e.ApplyConfigurations(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "loud", result.Winners["audio-domain"])
	assert.Len(t, sync.sent, 1)

	raw, err := e.GetRaw("/Audio/volume")
	require.NoError(t, err)
	assert.Equal(t, byte(100), raw[0])
}

func TestHandleSetRefusedOutsideTuningForOwnedPath(t *testing.T) {
	e, _ := buildFixture(t)
	require.NoError(t, e.SetTuningMode(false))

	h := e.NewHandle("/Audio/volume")
	err := h.SetAsInt(5)
	require.Error(t, err)
}

func TestHandleSetAllowedInTuningMode(t *testing.T) {
	e, _ := buildFixture(t)
	require.NoError(t, e.SetTuningMode(true))

	h := e.NewHandle("/Audio/volume")
	require.NoError(t, h.SetAsInt(5))
	v, err := h.GetAsInt()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)
}

func TestTuningModeIsolatesApply(t *testing.T) {
	e, sync := buildFixture(t)
	require.NoError(t, e.SetTuningMode(true))

	result, err := e.ApplyConfigurations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Winners)
	assert.Empty(t, sync.sent)

	raw, err := e.GetRaw("/Audio/volume")
	require.NoError(t, err)
	assert.Equal(t, byte(0), raw[0])
}

func TestSetTuningModeRefusedWhenDisallowed(t *testing.T) {
	sb := structure.NewBuilder()
	sub := &structure.Subsystem{Name: "Audio", Endianness: blackboard.Little}
	_, err := sb.AddSubsystem(sub, "Audio", nil, func(root *structure.Instance) []*structure.Instance {
		return []*structure.Instance{{Name: "volume", Type: ptype.IntegerType{SizeBits: 8}}}
	})
	require.NoError(t, err)
	tree := sb.Build()
	criteria := criterion.NewRegistry()
	domains := domain.NewRegistry(tree)

	e := New(tree, criteria, domains, nil, Options{AllowTuning: false})
	err = e.SetTuningMode(true)
	require.Error(t, err)
}

func TestRogueBitFieldAutoSyncSendsMergedBlock(t *testing.T) {
	block := ptype.BitParameterBlock{SizeBits: 8, Fields: []ptype.BitParameter{
		{Name: "A", Position: 0, Width: 2},
		{Name: "B", Position: 2, Width: 3, Max: 6, HasMax: true},
	}}
	fieldA, _ := block.FieldByName("A")
	fieldB, _ := block.FieldByName("B")

	sb := structure.NewBuilder()
	sub := &structure.Subsystem{Name: "Audio", Type: "fake", Endianness: blackboard.Little}
	_, err := sb.AddSubsystem(sub, "Audio", nil, func(root *structure.Instance) []*structure.Instance {
		return []*structure.Instance{{
			Name: "flags",
			Type: block,
			BitFields: []*structure.Instance{
				{Name: "A", Type: ptype.BitFieldType{Block: block, Field: fieldA}},
				{Name: "B", Type: ptype.BitFieldType{Block: block, Field: fieldB}},
			},
		}}
	})
	require.NoError(t, err)
	tree := sb.Build()

	sync := &fakeSync{}
	backends := backend.NewRegistry()
	backends.Register("fake", func() backend.Backend { return &fakeBackend{endian: blackboard.Little, sync: sync} })

	e := New(tree, criterion.NewRegistry(), domain.NewRegistry(tree), backends, Options{AutoSync: true})
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.NewHandle("/Audio/flags/A").SetAsInt(3))
	require.NoError(t, e.NewHandle("/Audio/flags/B").SetAsInt(5))

	// The second send must carry the whole merged block, not a word
	// holding B alone: A=3 in bits 0-1, B=5 in bits 2-4.
	require.Len(t, sync.data, 2)
	assert.Equal(t, []byte{0x17}, sync.data[1])
}

func TestStartBackSyncsFromBackend(t *testing.T) {
	sb := structure.NewBuilder()
	sub := &structure.Subsystem{Name: "Audio", Type: "fake", Endianness: blackboard.Little}
	_, err := sb.AddSubsystem(sub, "Audio", nil, func(root *structure.Instance) []*structure.Instance {
		return []*structure.Instance{{Name: "volume", Type: ptype.IntegerType{SizeBits: 8}}}
	})
	require.NoError(t, err)
	tree := sb.Build()

	sync := &fakeSync{recv: []byte{77}}
	backends := backend.NewRegistry()
	backends.Register("fake", func() backend.Backend { return &fakeBackend{endian: blackboard.Little, sync: sync} })

	e := New(tree, criterion.NewRegistry(), domain.NewRegistry(tree), backends, Options{})
	require.NoError(t, e.Start(context.Background()))

	raw, err := e.GetRaw("/Audio/volume")
	require.NoError(t, err)
	assert.Equal(t, byte(77), raw[0])
}

func TestStartMissingSubsystemPolicy(t *testing.T) {
	build := func() (*structure.Tree, *backend.Registry) {
		sb := structure.NewBuilder()
		sub := &structure.Subsystem{Name: "Audio", Type: "absent", Endianness: blackboard.Little}
		_, err := sb.AddSubsystem(sub, "Audio", nil, func(root *structure.Instance) []*structure.Instance {
			return []*structure.Instance{{Name: "volume", Type: ptype.IntegerType{SizeBits: 8}}}
		})
		require.NoError(t, err)
		return sb.Build(), backend.NewRegistry()
	}

	tree, backends := build()
	e := New(tree, criterion.NewRegistry(), domain.NewRegistry(tree), backends, Options{FailureOnMissingSubsystem: true})
	require.Error(t, e.Start(context.Background()))

	tree, backends = build()
	e = New(tree, criterion.NewRegistry(), domain.NewRegistry(tree), backends, Options{FailureOnMissingSubsystem: false})
	require.NoError(t, e.Start(context.Background()))
	_, ok := e.Lookup("Audio")
	assert.False(t, ok)
}

func TestConfigurationLifecycleRequiresTuning(t *testing.T) {
	e, _ := buildFixture(t)

	err := e.CreateConfiguration("audio-domain", "extra", &rule.Composite{Op: rule.All})
	assert.Error(t, err)
	err = e.RenameConfiguration("audio-domain", "loud", "shouty")
	assert.Error(t, err)
	err = e.DeleteConfiguration("audio-domain", "loud")
	assert.Error(t, err)
	err = e.SaveConfiguration("audio-domain", "loud")
	assert.Error(t, err)

	require.NoError(t, e.SetTuningMode(true))
	require.NoError(t, e.CreateConfiguration("audio-domain", "extra", &rule.Composite{Op: rule.All}))
	require.NoError(t, e.RenameConfiguration("audio-domain", "extra", "fallback"))
	require.NoError(t, e.DeleteConfiguration("audio-domain", "fallback"))
}

func TestSaveConfigurationCapturesTuningWrites(t *testing.T) {
	e, _ := buildFixture(t)
	require.NoError(t, e.SetTuningMode(true))

	h := e.NewHandle("/Audio/volume")
	require.NoError(t, h.SetAsInt(33))
	require.NoError(t, e.SaveConfiguration("audio-domain", "loud"))

	require.NoError(t, h.SetAsInt(0))
	require.NoError(t, e.RestoreConfiguration(context.Background(), "audio-domain", "loud"))
	v, err := h.GetAsInt()
	require.NoError(t, err)
	assert.Equal(t, uint64(33), v)
}

func TestExportImportDomainsRoundTrip(t *testing.T) {
	e, _ := buildFixture(t)

	var buf strings.Builder
	require.NoError(t, e.ExportDomains(&buf))
	assert.Contains(t, buf.String(), "audio-domain")

	require.NoError(t, e.ImportDomains(strings.NewReader(buf.String())))
}
