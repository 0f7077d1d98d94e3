package xmlbinding

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const structureXML = `<SystemClass Name="Sys">
  <Subsystem Name="Audio" Type="demo" Endianness="Little">
    <ComponentLibrary/>
    <InstanceDefinition>
      <IntegerParameter Name="volume" Size="8" Signed="false"/>
      <BooleanParameter Name="mute"/>
    </InstanceDefinition>
  </Subsystem>
</SystemClass>`

func TestLoadStructureBasic(t *testing.T) {
	tree, err := LoadStructure(strings.NewReader(structureXML))
	require.NoError(t, err)

	in, err := tree.Lookup("/Audio/volume")
	require.NoError(t, err)
	assert.Equal(t, 0, in.Offset)
	assert.Equal(t, 1, in.Footprint)

	mute, err := tree.Lookup("/Audio/mute")
	require.NoError(t, err)
	assert.Equal(t, 1, mute.Offset)
}

const domainsXMLSample = `<ConfigurableDomains SystemClassName="Sys">
  <ConfigurableDomain Name="AudioDomain">
    <Configurations>
      <Configuration Name="loud">
        <CompoundRule Type="All">
          <SelectionCriterionRule SelectionCriterion="mode" MatchesWhen="Is" Value="1"/>
        </CompoundRule>
      </Configuration>
    </Configurations>
    <ConfigurableElements>
      <ConfigurableElement Path="/Audio/volume"/>
    </ConfigurableElements>
    <Settings>
      <Configuration Name="loud">
        <volume Value="80"/>
      </Configuration>
    </Settings>
  </ConfigurableDomain>
</ConfigurableDomains>`

func TestLoadDomainsWithSettings(t *testing.T) {
	tree, err := LoadStructure(strings.NewReader(structureXML))
	require.NoError(t, err)

	domains, err := LoadDomains(strings.NewReader(domainsXMLSample), tree)
	require.NoError(t, err)
	require.Len(t, domains, 1)

	d := domains[0]
	require.Len(t, d.Configurations, 1)
	cfg := d.Configurations[0]
	area, ok := cfg.Area["/Audio/volume"]
	require.True(t, ok)
	assert.Equal(t, []byte{80}, area.Region)
}

func TestExportImportSettingsRoundTrip(t *testing.T) {
	tree, err := LoadStructure(strings.NewReader(structureXML))
	require.NoError(t, err)
	domains, err := LoadDomains(strings.NewReader(domainsXMLSample), tree)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ExportSettings(&buf, domains, tree))
	assert.Contains(t, buf.String(), "volume")
}

func TestBinarySettingsRoundTripAndChecksum(t *testing.T) {
	tree, err := LoadStructure(strings.NewReader(structureXML))
	require.NoError(t, err)
	domains, err := LoadDomains(strings.NewReader(domainsXMLSample), tree)
	require.NoError(t, err)

	d := domains[0]
	cfg := d.Configurations[0]

	var buf bytes.Buffer
	require.NoError(t, ExportBinarySettings(&buf, cfg, d, tree))

	cfg.Area = nil
	require.NoError(t, ImportBinarySettings(buf.Bytes(), cfg, d, tree))
	assert.Equal(t, []byte{80}, cfg.Area["/Audio/volume"].Region)

	corrupted := append([]byte{}, buf.Bytes()...)
	corrupted[0] ^= 0xFF
	err = ImportBinarySettings(corrupted, cfg, d, tree)
	assert.Error(t, err)
}
